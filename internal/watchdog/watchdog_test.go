package watchdog_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-gov/aegis/internal/feed"
	"github.com/aegis-gov/aegis/internal/judge"
	"github.com/aegis-gov/aegis/internal/ledger"
	"github.com/aegis-gov/aegis/internal/watchdog"
)

var ctx = context.Background()

type fixture struct {
	store  *ledger.MemoryStore
	feed   *feed.MemoryFeed
	engine *judge.Engine
	wd     *watchdog.Watchdog
}

func newFixture(t *testing.T, interval uint64) *fixture {
	t.Helper()

	store, err := ledger.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	engine := judge.NewEngine(zap.NewNop())
	if err := judge.RegisterBuiltin(engine); err != nil {
		t.Fatal(err)
	}
	recorder := feed.New()
	wd := watchdog.New(store, engine, recorder, nil, interval, zap.NewNop())

	return &fixture{store: store, feed: recorder, engine: engine, wd: wd}
}

func (f *fixture) append(t *testing.T, task string, kind ledger.EventKind, offset int) {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	_, err := f.store.Append(ctx, &ledger.Draft{
		TaskID:    task,
		AgentID:   "agent-a",
		Kind:      kind,
		Timestamp: base.Add(time.Duration(offset) * time.Second),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestKernelTick_nonQualifyingIsNoOp(t *testing.T) {
	f := newFixture(t, 10)
	f.append(t, "t1", ledger.KindBroadcast, 0) // would be CRITICAL if scanned

	result, err := f.wd.KernelTick(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if result.ShouldHalt {
		t.Error("non-qualifying tick must not halt")
	}
	if len(result.Violations) != 0 {
		t.Error("non-qualifying tick must not consult the engine")
	}
	if got := f.wd.State().LastChecked; got != 0 {
		t.Errorf("last_checked must not advance on a no-op tick, got %d", got)
	}
}

func TestKernelTick_criticalViolationHalts(t *testing.T) {
	f := newFixture(t, 10)
	f.append(t, "t1", ledger.KindBroadcast, 0) // unlicensed broadcast

	lenBefore, _ := f.store.Len(ctx)
	result, err := f.wd.KernelTick(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}

	if !result.ShouldHalt {
		t.Fatal("critical violation must request a halt")
	}
	if len(result.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(result.Violations))
	}

	// Exactly one VIOLATION event appended per violation.
	lenAfter, _ := f.store.Len(ctx)
	if lenAfter != lenBefore+1 {
		t.Errorf("ledger grew by %d, want 1 violation event", lenAfter-lenBefore)
	}
	tip, _ := f.store.Get(ctx, lenAfter)
	if tip.Kind != ledger.KindViolation {
		t.Errorf("tip kind: got %s, want VIOLATION", tip.Kind)
	}
	if tip.Payload["violated_invariant"] != "BROADCAST_LICENSE_REQUIREMENT" {
		t.Errorf("violation payload: %+v", tip.Payload)
	}

	// Mirrored on the feed.
	n, _ := f.feed.Count(ctx)
	if n != 1 {
		t.Errorf("feed count: got %d, want 1", n)
	}

	// The chain still verifies with the violation event on it.
	report, _ := f.store.Verify(ctx)
	if !report.Valid {
		t.Error("chain must verify after violation append")
	}
}

func TestKernelTick_haltLatchPersists(t *testing.T) {
	f := newFixture(t, 10)
	f.append(t, "t1", ledger.KindBroadcast, 0)

	if result, _ := f.wd.KernelTick(ctx, 10); !result.ShouldHalt {
		t.Fatal("expected halt")
	}

	// Later clean ticks keep the latch set.
	f.append(t, "t2", ledger.KindTaskCompleted, 5)
	result, err := f.wd.KernelTick(ctx, 20)
	if err != nil {
		t.Fatal(err)
	}
	if !result.ShouldHalt {
		t.Error("halt latch must never auto-reset")
	}
	if !f.wd.State().HaltRequested {
		t.Error("halt_requested must stay true")
	}
}

func TestKernelTick_lastCheckedAdvancesPastViolationEvents(t *testing.T) {
	f := newFixture(t, 10)
	f.append(t, "t1", ledger.KindBroadcast, 0)

	if _, err := f.wd.KernelTick(ctx, 10); err != nil {
		t.Fatal(err)
	}
	n, _ := f.store.Len(ctx)
	if got := f.wd.State().LastChecked; got != n {
		t.Fatalf("last_checked: got %d, want ledger length %d", got, n)
	}

	// The next qualifying tick scans nothing old: the violation written on
	// tick 10 must not be re-detected, so no new violation events appear.
	result, err := f.wd.KernelTick(ctx, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Violations) != 0 {
		t.Errorf("re-scan produced %d violations, want 0", len(result.Violations))
	}
	n2, _ := f.store.Len(ctx)
	if n2 != n {
		t.Errorf("ledger grew on a clean tick: %d → %d", n, n2)
	}
}

func TestKernelTick_cleanScanStaysIdle(t *testing.T) {
	f := newFixture(t, 5)
	f.append(t, "t1", ledger.KindLicenseValid, 0)
	f.append(t, "t1", ledger.KindBroadcast, 1)

	result, err := f.wd.KernelTick(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if result.ShouldHalt || len(result.Violations) != 0 {
		t.Errorf("licensed broadcast must pass: %+v", result)
	}
	if f.wd.State().HaltRequested {
		t.Error("no halt on a clean scan")
	}
}

func TestCallbacks_invokedAndPanicsIsolated(t *testing.T) {
	f := newFixture(t, 10)
	f.append(t, "t1", ledger.KindBroadcast, 0)

	var seen []judge.Violation
	halts := 0
	f.wd.OnViolation(func(judge.Violation) { panic("observer bug") })
	f.wd.OnViolation(func(v judge.Violation) { seen = append(seen, v) })
	f.wd.OnHalt(func() { panic("another observer bug") })
	f.wd.OnHalt(func() { halts++ })

	result, err := f.wd.KernelTick(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}

	if !result.ShouldHalt {
		t.Error("panicking callbacks must never suppress the halt")
	}
	if len(seen) != 1 {
		t.Errorf("surviving violation callback saw %d violations, want 1", len(seen))
	}
	if halts != 1 {
		t.Errorf("halt callback invoked %d times, want 1", halts)
	}
}

func TestIntegration_serialisesAndForwards(t *testing.T) {
	f := newFixture(t, 10)
	kernel := watchdog.NewIntegration(f.wd)

	f.append(t, "t1", ledger.KindBroadcast, 0)

	result, err := kernel.KernelTick(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !result.ShouldHalt {
		t.Error("integration must forward the halt decision")
	}
	if !kernel.State().HaltRequested {
		t.Error("integration state must reflect the latch")
	}
}

func TestKernelTick_snapshotRulesRun(t *testing.T) {
	store, err := ledger.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	engine := judge.NewEngine(zap.NewNop())
	if err := judge.RegisterBuiltin(engine); err != nil {
		t.Fatal(err)
	}
	snapshot := func(context.Context) *judge.Snapshot {
		return &judge.Snapshot{AgentCount: 3, TotalBalance: 0}
	}
	wd := watchdog.New(store, engine, feed.New(), snapshot, 1, zap.NewNop())

	result, err := wd.KernelTick(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !result.ShouldHalt {
		t.Error("CRITICAL_VOIDS from the snapshot must halt")
	}
}

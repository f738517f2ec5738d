// Package watchdog implements the periodic runtime monitor of the
// governance core.
//
// On every qualifying kernel tick the Watchdog pulls unreviewed events from
// the ledger, hands them to the invariant engine, writes each detected
// violation back to the ledger as a VIOLATION event and to the violation
// feed, and decides whether task scheduling must halt. The halt latch is
// monotonic: once requested it is never cleared by the Watchdog itself;
// resumption is an external operator action.
package watchdog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-gov/aegis/internal/feed"
	"github.com/aegis-gov/aegis/internal/judge"
	"github.com/aegis-gov/aegis/internal/ledger"
)

// DefaultCheckInterval is how many kernel ticks pass between scans when no
// interval is configured.
const DefaultCheckInterval = 10

// SnapshotFunc supplies the read-only evaluation context for a scan. The
// external collaborators behind it (economic ledger, agent registry,
// document scanner) own the data; the Watchdog only reads it.
type SnapshotFunc func(ctx context.Context) *judge.Snapshot

// State is the Watchdog's externally visible state. LastChecked strictly
// advances; no event is ever scanned twice.
type State struct {
	LastChecked   uint64 `json:"last_checked_index"`
	HaltRequested bool   `json:"halt_requested"`
	CheckInterval uint64 `json:"check_interval_ticks"`
}

// TickResult is what KernelTick reports back to the kernel driver.
type TickResult struct {
	ShouldHalt bool              `json:"should_halt"`
	Violations []judge.Violation `json:"violations"`
}

// Watchdog scans new ledger events on a tick schedule and owns the halt
// decision. It is not reentrant: calls to KernelTick must be serialised by
// the caller. Integration provides that serialisation for external drivers.
type Watchdog struct {
	store    ledger.Store
	engine   *judge.Engine
	feed     feed.Recorder
	snapshot SnapshotFunc
	logger   *zap.Logger

	interval    uint64
	lastChecked uint64
	halted      bool

	onViolation []func(judge.Violation)
	onHalt      []func()
}

// New creates a Watchdog. interval zero falls back to DefaultCheckInterval;
// snapshot may be nil when no external state feeds the rules.
func New(store ledger.Store, engine *judge.Engine, recorder feed.Recorder, snapshot SnapshotFunc, interval uint64, logger *zap.Logger) *Watchdog {
	if interval == 0 {
		interval = DefaultCheckInterval
	}
	if snapshot == nil {
		snapshot = func(context.Context) *judge.Snapshot { return &judge.Snapshot{} }
	}
	return &Watchdog{
		store:    store,
		engine:   engine,
		feed:     recorder,
		snapshot: snapshot,
		interval: interval,
		logger:   logger,
	}
}

// OnViolation registers a synchronous observer invoked once per detected
// violation. A panicking callback is recovered and logged; it can never
// suppress or delay the halt decision.
func (w *Watchdog) OnViolation(fn func(judge.Violation)) {
	w.onViolation = append(w.onViolation, fn)
}

// OnHalt registers a synchronous observer invoked once, on the transition
// into the halted state.
func (w *Watchdog) OnHalt(fn func()) {
	w.onHalt = append(w.onHalt, fn)
}

// State returns a copy of the current watchdog state.
func (w *Watchdog) State() State {
	return State{
		LastChecked:   w.lastChecked,
		HaltRequested: w.halted,
		CheckInterval: w.interval,
	}
}

// KernelTick is called by the kernel driver after each executed task. Ticks
// that are not multiples of the check interval are no-ops: the engine is not
// consulted and LastChecked does not move. On qualifying ticks the full
// scan-evaluate-record cycle runs to completion; there is no cancellation
// mid-scan.
func (w *Watchdog) KernelTick(ctx context.Context, tick uint64) (*TickResult, error) {
	if tick%w.interval != 0 {
		return &TickResult{ShouldHalt: false, Violations: []judge.Violation{}}, nil
	}

	var events []*ledger.Event
	if err := w.store.Range(ctx, w.lastChecked+1, func(e *ledger.Event) error {
		events = append(events, e)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("scan ledger from %d: %w", w.lastChecked+1, err)
	}

	report := w.engine.Evaluate(events, w.snapshot(ctx))

	// The halt decision is settled before any write or callback so that
	// neither a failing store nor a misbehaving observer can undo it.
	critical := false
	for _, v := range report.Violations {
		if v.Severity == judge.SeverityCritical {
			critical = true
			break
		}
	}
	if critical && !w.halted {
		w.halted = true
		w.logger.Error("critical invariant violated, requesting kernel halt",
			zap.Uint64("tick", tick),
			zap.Int("violations", len(report.Violations)),
		)
		for _, fn := range w.onHalt {
			w.invokeHalt(fn)
		}
	}

	var writeErr error
	for _, v := range report.Violations {
		if err := w.record(ctx, events, v); err != nil && writeErr == nil {
			writeErr = err
		}
		for _, fn := range w.onViolation {
			w.invokeViolation(fn, v)
		}
	}

	// Advance past everything scanned plus the violation events just
	// written; neither will ever be re-scanned.
	if n, err := w.store.Len(ctx); err == nil {
		w.lastChecked = n
	} else if writeErr == nil {
		writeErr = fmt.Errorf("read ledger length: %w", err)
	}

	if len(report.Violations) > 0 {
		w.logger.Warn("invariant violations detected",
			zap.Uint64("tick", tick),
			zap.Int("count", len(report.Violations)),
			zap.Bool("halt_requested", w.halted),
		)
	}

	return &TickResult{ShouldHalt: w.halted, Violations: report.Violations}, writeErr
}

// record writes one violation to the ledger as a VIOLATION event and to the
// violation feed.
func (w *Watchdog) record(ctx context.Context, scanned []*ledger.Event, v judge.Violation) error {
	taskID, agentID := "governance", "aegis-watchdog"
	if v.EventIndex >= 0 && v.EventIndex < len(scanned) {
		taskID = scanned[v.EventIndex].TaskID
	}

	total, err := w.store.Len(ctx)
	if err != nil {
		return fmt.Errorf("read ledger length: %w", err)
	}
	violations, err := w.feed.Count(ctx)
	if err != nil {
		return fmt.Errorf("count violations: %w", err)
	}

	now := time.Now().UTC()
	event, err := w.store.Append(ctx, &ledger.Draft{
		TaskID:    taskID,
		AgentID:   agentID,
		Kind:      ledger.KindViolation,
		Timestamp: now,
		Payload: map[string]any{
			"violated_invariant": v.Rule,
			"severity":           v.Severity.String(),
			"message":            v.Message,
			"ledger_events":      total,
			"ledger_violations":  violations,
		},
	})
	if err != nil {
		return fmt.Errorf("append violation event: %w", err)
	}

	if err := w.feed.Add(ctx, &feed.Record{
		Sequence:   event.Sequence,
		TaskID:     taskID,
		AgentID:    agentID,
		Severity:   v.Severity.String(),
		Invariant:  v.Rule,
		Message:    v.Message,
		EventIndex: v.EventIndex,
		DetectedAt: now,
	}); err != nil {
		return fmt.Errorf("record violation: %w", err)
	}
	return nil
}

func (w *Watchdog) invokeViolation(fn func(judge.Violation), v judge.Violation) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("violation callback panicked", zap.Any("panic", r))
		}
	}()
	fn(v)
}

func (w *Watchdog) invokeHalt(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("halt callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

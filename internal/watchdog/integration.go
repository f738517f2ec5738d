package watchdog

import (
	"context"
	"sync"

	"github.com/aegis-gov/aegis/internal/judge"
)

// Integration is the adapter the external kernel driver holds. It wraps the
// Watchdog with a mutex so drivers that are not themselves single-threaded
// still satisfy the Watchdog's serialisation requirement, and it is the only
// type the kernel contract exposes: after each executed task the kernel
// calls KernelTick and must stop scheduling once it observes ShouldHalt.
type Integration struct {
	mu sync.Mutex
	wd *Watchdog
}

// NewIntegration wraps a Watchdog for external drivers.
func NewIntegration(wd *Watchdog) *Integration {
	return &Integration{wd: wd}
}

// KernelTick forwards to the Watchdog under the integration lock.
func (i *Integration) KernelTick(ctx context.Context, tick uint64) (*TickResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.wd.KernelTick(ctx, tick)
}

// State returns the watchdog state under the integration lock.
func (i *Integration) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.wd.State()
}

// RegisterViolationCallback adds a synchronous violation observer. Register
// callbacks during startup, before the first tick.
func (i *Integration) RegisterViolationCallback(fn func(judge.Violation)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.wd.OnViolation(fn)
}

// RegisterHaltCallback adds a synchronous halt observer.
func (i *Integration) RegisterHaltCallback(fn func()) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.wd.OnHalt(fn)
}

// Package judge implements the invariant-verification engine of the
// governance core.
//
// An Engine holds an ordered registry of Rules and evaluates them against a
// slice of ledger events plus a read-only Snapshot of external state. A
// single evaluation pass collects every violation from every rule; no rule
// short-circuits evaluation, and a rule that panics is converted into a
// HIGH-severity violation attributed to that rule while the remaining rules
// still run.
package judge

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-gov/aegis/internal/ledger"
)

// ErrDuplicateRule is returned by Register when a rule name collides with an
// already registered rule.
var ErrDuplicateRule = errors.New("duplicate rule name")

// Report is the outcome of one evaluation pass.
type Report struct {
	Passed     bool        `json:"passed"`
	Violations []Violation `json:"violations"`
	CheckedAt  time.Time   `json:"checked_at"`
}

// Engine is the rule registry and evaluator. Construct one explicitly and
// pass it by reference; there is no global instance. The registry is fixed
// at startup: Register everything before the first Evaluate.
type Engine struct {
	rules  []Rule
	byName map[string]struct{}
	logger *zap.Logger
}

// NewEngine creates an empty Engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{byName: make(map[string]struct{}), logger: logger}
}

// Register appends a rule to the ordered registry. Re-registering a name is
// rejected with ErrDuplicateRule; rules are immutable once registered.
func (e *Engine) Register(rule Rule) error {
	if _, exists := e.byName[rule.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.Name())
	}
	e.byName[rule.Name()] = struct{}{}
	e.rules = append(e.rules, rule)
	return nil
}

// Rules returns the registered rules in registration order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate runs every registered rule, in registration order, against the
// given events and snapshot. VIOLATION events are filtered out before rules
// see the slice so the Watchdog's own output never re-triggers them; event
// indices in the report always refer to positions in the input slice.
func (e *Engine) Evaluate(events []*ledger.Event, snap *Snapshot) *Report {
	if snap == nil {
		snap = &Snapshot{}
	}

	scanned := make([]*ledger.Event, 0, len(events))
	inputIdx := make([]int, 0, len(events))
	for i, ev := range events {
		if ev.Kind == ledger.KindViolation {
			continue
		}
		scanned = append(scanned, ev)
		inputIdx = append(inputIdx, i)
	}

	report := &Report{Passed: true, Violations: []Violation{}, CheckedAt: time.Now().UTC()}
	for _, rule := range e.rules {
		for _, v := range e.runRule(rule, scanned, snap) {
			if v.EventIndex >= 0 && v.EventIndex < len(inputIdx) {
				v.EventIndex = inputIdx[v.EventIndex]
			}
			report.Violations = append(report.Violations, v)
		}
	}
	report.Passed = len(report.Violations) == 0
	return report
}

// runRule executes one rule, converting a panic into a HIGH violation
// attributed to the rule so the remaining rules still run.
func (e *Engine) runRule(rule Rule, events []*ledger.Event, snap *Snapshot) (violations []Violation) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("rule panicked during evaluation",
				zap.String("rule", rule.Name()),
				zap.Any("panic", r),
			)
			violations = []Violation{{
				Rule:       rule.Name(),
				Severity:   SeverityHigh,
				Message:    fmt.Sprintf("rule evaluation failed: %v", r),
				EventIndex: -1,
			}}
		}
	}()

	for _, f := range rule.Check(events, snap) {
		violations = append(violations, Violation{
			Rule:       rule.Name(),
			Severity:   rule.Severity(),
			Message:    f.Message,
			EventIndex: f.EventIndex,
		})
	}
	return violations
}

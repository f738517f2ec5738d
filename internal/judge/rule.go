package judge

import (
	"encoding/json"
	"fmt"

	"github.com/aegis-gov/aegis/internal/ledger"
)

// Severity ranks how badly an invariant violation compromises the platform.
// Only SeverityCritical violations halt task scheduling; everything else is
// recorded for later remediation.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}

func (s Severity) String() string {
	if s < SeverityLow || s > SeverityCritical {
		return fmt.Sprintf("SEVERITY(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity converts the wire form back into a Severity.
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if n == name {
			return Severity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", name)
}

// MarshalJSON encodes severities as their string names, matching the
// violation feed schema.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the string form.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Snapshot is the read-only evaluation context supplied by external
// collaborators (economic ledger, agent registry, compliance scanner). Rules
// that reason about platform state rather than event history read from here.
type Snapshot struct {
	// AgentCount is the number of agents known to the registry.
	AgentCount int

	// TotalBalance is the summed balance of the economic ledger, in the
	// platform's smallest credit unit.
	TotalBalance int64

	// Documents maps document names to their free-text contents, for rules
	// that scan externally supplied evidence instead of ledger events.
	Documents map[string]string
}

// Finding is a single match returned by a rule's Check. The engine stamps
// the rule name and severity onto findings to produce Violations.
type Finding struct {
	// Message describes the violation in human-readable terms.
	Message string

	// EventIndex is the position in the evaluated slice of the offending
	// event, or -1 when the finding is not tied to a single event.
	EventIndex int
}

// Rule is a single invariant checked against the event history. Rules are
// immutable after registration and must be safe for repeated evaluation.
type Rule interface {
	// Name is the globally unique rule identifier.
	Name() string

	// Description explains what the invariant guarantees.
	Description() string

	// Severity classifies every violation this rule produces.
	Severity() Severity

	// Check inspects the events and snapshot and returns zero or more
	// findings. The event slice never contains VIOLATION events; those are
	// the Watchdog's own output and must not re-trigger rules.
	Check(events []*ledger.Event, snap *Snapshot) []Finding
}

// Violation is a detected invariant break.
type Violation struct {
	Rule       string   `json:"rule_name"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	EventIndex int      `json:"event_index"`
}

// ruleFunc adapts a plain check function into a Rule. The builtin rule set
// is declared this way; external collaborators may implement Rule directly.
type ruleFunc struct {
	name        string
	description string
	severity    Severity
	check       func(events []*ledger.Event, snap *Snapshot) []Finding
}

func (r *ruleFunc) Name() string        { return r.name }
func (r *ruleFunc) Description() string { return r.description }
func (r *ruleFunc) Severity() Severity  { return r.severity }

func (r *ruleFunc) Check(events []*ledger.Event, snap *Snapshot) []Finding {
	return r.check(events, snap)
}

// NewRule builds a Rule from a check function.
func NewRule(name, description string, severity Severity, check func([]*ledger.Event, *Snapshot) []Finding) Rule {
	return &ruleFunc{name: name, description: description, severity: severity, check: check}
}

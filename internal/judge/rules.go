package judge

import (
	"fmt"

	"github.com/aegis-gov/aegis/internal/ledger"
)

// RegisterBuiltin registers the platform's core invariant rules on the
// engine, in their canonical order. The document-scanning rule is optional
// and registered separately; see RegisterCompliance.
func RegisterBuiltin(e *Engine) error {
	for _, r := range []Rule{
		broadcastLicenseRule(),
		noDuplicateEventsRule(),
		eventSequenceRule(),
		noOrphanedEventsRule(),
		creditRequiresProposalRule(),
		voteRequiresProposalRule(),
		criticalVoidsRule(),
	} {
		if err := e.Register(r); err != nil {
			return err
		}
	}
	return nil
}

// ── Rules ─────────────────────────────────────────────────────────────────────

// broadcastLicenseRule requires every BROADCAST to be covered by a
// LICENSE_VALID for the same task within the contiguous run of same-task
// events immediately preceding it. Implemented as a single forward pass
// tracking the current run, equivalent to the backward scan that stops at
// the first event of a different task.
func broadcastLicenseRule() Rule {
	return NewRule(
		"BROADCAST_LICENSE_REQUIREMENT",
		"A BROADCAST event must be preceded by a LICENSE_VALID event for the same task.",
		SeverityCritical,
		func(events []*ledger.Event, _ *Snapshot) []Finding {
			var findings []Finding
			runTask := ""
			runLicensed := false
			for i, ev := range events {
				if ev.TaskID != runTask {
					runTask = ev.TaskID
					runLicensed = false
				}
				switch ev.Kind {
				case ledger.KindLicenseValid:
					runLicensed = true
				case ledger.KindBroadcast:
					if !runLicensed {
						findings = append(findings, Finding{
							Message:    fmt.Sprintf("BROADCAST by %s in task %s without a prior LICENSE_VALID", ev.AgentID, ev.TaskID),
							EventIndex: i,
						})
					}
				}
			}
			return findings
		},
	)
}

// noDuplicateEventsRule flags events repeating an exact
// (task_id, event_type, timestamp) triple. Each repeat occurrence produces
// one finding against the later event, never one per ordered pair.
func noDuplicateEventsRule() Rule {
	return NewRule(
		"NO_DUPLICATE_EVENTS",
		"No two events may share the same task, type, and timestamp.",
		SeverityCritical,
		func(events []*ledger.Event, _ *Snapshot) []Finding {
			type triple struct {
				task string
				kind ledger.EventKind
				ts   int64
			}
			var findings []Finding
			seen := make(map[triple]int, len(events))
			for i, ev := range events {
				key := triple{ev.TaskID, ev.Kind, ev.Timestamp.UnixNano()}
				if first, dup := seen[key]; dup {
					findings = append(findings, Finding{
						Message:    fmt.Sprintf("event duplicates (%s, %s, %s) first seen at index %d", ev.TaskID, ev.Kind, ev.Timestamp.Format("2006-01-02T15:04:05.999999999Z07:00"), first),
						EventIndex: i,
					})
					continue
				}
				seen[key] = i
			}
			return findings
		},
	)
}

// eventSequenceRule requires timestamps within a task to be non-decreasing.
// Only the first inversion per task is reported.
func eventSequenceRule() Rule {
	return NewRule(
		"EVENT_SEQUENCE_INTEGRITY",
		"Events within a task must carry non-decreasing timestamps.",
		SeverityHigh,
		func(events []*ledger.Event, _ *Snapshot) []Finding {
			type tail struct {
				lastIdx  int
				reported bool
			}
			var findings []Finding
			tails := make(map[string]*tail)
			for i, ev := range events {
				t, ok := tails[ev.TaskID]
				if !ok {
					tails[ev.TaskID] = &tail{lastIdx: i}
					continue
				}
				if !t.reported && ev.Timestamp.Before(events[t.lastIdx].Timestamp) {
					findings = append(findings, Finding{
						Message:    fmt.Sprintf("task %s: event at index %d predates its predecessor at index %d", ev.TaskID, i, t.lastIdx),
						EventIndex: i,
					})
					t.reported = true
				}
				t.lastIdx = i
			}
			return findings
		},
	)
}

// noOrphanedEventsRule flags events missing any required identity field.
// Events reaching the ledger through Append can never trip this rule; it
// guards against histories imported from elsewhere.
func noOrphanedEventsRule() Rule {
	return NewRule(
		"NO_ORPHANED_EVENTS",
		"Every event must carry task_id, agent_id, event_type, and timestamp.",
		SeverityHigh,
		func(events []*ledger.Event, _ *Snapshot) []Finding {
			var findings []Finding
			for i, ev := range events {
				var missing string
				switch {
				case ev.TaskID == "":
					missing = "task_id"
				case ev.AgentID == "":
					missing = "agent_id"
				case ev.Kind == "":
					missing = "event_type"
				case ev.Timestamp.IsZero():
					missing = "timestamp"
				default:
					continue
				}
				findings = append(findings, Finding{
					Message:    fmt.Sprintf("event at index %d is missing %s", i, missing),
					EventIndex: i,
				})
			}
			return findings
		},
	)
}

// creditRequiresProposalRule requires a CREDIT_TRANSFER to follow a
// PROPOSAL_PASSED within the same task.
func creditRequiresProposalRule() Rule {
	return NewRule(
		"CREDIT_REQUIRES_PASSED_PROPOSAL",
		"A CREDIT_TRANSFER must be preceded in its task by a PROPOSAL_PASSED.",
		SeverityCritical,
		func(events []*ledger.Event, _ *Snapshot) []Finding {
			var findings []Finding
			passed := make(map[string]bool)
			for i, ev := range events {
				switch ev.Kind {
				case ledger.KindProposalPassed:
					passed[ev.TaskID] = true
				case ledger.KindCreditTransfer:
					if !passed[ev.TaskID] {
						findings = append(findings, Finding{
							Message:    fmt.Sprintf("CREDIT_TRANSFER in task %s without a prior PROPOSAL_PASSED", ev.TaskID),
							EventIndex: i,
						})
					}
				}
			}
			return findings
		},
	)
}

// voteRequiresProposalRule requires a PROPOSAL_VOTED_YES to follow a
// PROPOSAL_CREATED within the same task.
func voteRequiresProposalRule() Rule {
	return NewRule(
		"VOTE_REQUIRES_PROPOSAL",
		"A PROPOSAL_VOTED_YES must be preceded in its task by a PROPOSAL_CREATED.",
		SeverityHigh,
		func(events []*ledger.Event, _ *Snapshot) []Finding {
			var findings []Finding
			created := make(map[string]bool)
			for i, ev := range events {
				switch ev.Kind {
				case ledger.KindProposalCreated:
					created[ev.TaskID] = true
				case ledger.KindProposalVotedYes:
					if !created[ev.TaskID] {
						findings = append(findings, Finding{
							Message:    fmt.Sprintf("PROPOSAL_VOTED_YES in task %s without a prior PROPOSAL_CREATED", ev.TaskID),
							EventIndex: i,
						})
					}
				}
			}
			return findings
		},
	)
}

// criticalVoidsRule checks the externally supplied state counters for
// impossible zeroes: a populated platform whose economic ledger silently
// sums to nothing is corrupt, not merely quiet.
func criticalVoidsRule() Rule {
	return NewRule(
		"CRITICAL_VOIDS",
		"Platform state counters must be non-zero where agents are active.",
		SeverityCritical,
		func(_ []*ledger.Event, snap *Snapshot) []Finding {
			if snap.AgentCount > 0 && snap.TotalBalance == 0 {
				return []Finding{{
					Message:    fmt.Sprintf("%d agents registered but total economic balance is zero", snap.AgentCount),
					EventIndex: -1,
				}}
			}
			return nil
		},
	)
}

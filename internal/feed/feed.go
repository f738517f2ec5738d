// Package feed implements the violation feed: an append log parallel to the
// event ledger, mirroring its schema plus severity, rule name, and message.
// External alerting and dashboards consume it without walking the chain.
package feed

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is one entry on the violation feed. Sequence, TaskID, AgentID, and
// DetectedAt mirror the VIOLATION event written to the ledger for the same
// finding; the remaining fields carry what alerting needs directly.
type Record struct {
	ID         uuid.UUID `json:"id"`
	Sequence   uint64    `json:"sequence_number"`
	TaskID     string    `json:"task_id"`
	AgentID    string    `json:"agent_id"`
	Severity   string    `json:"severity"`
	Invariant  string    `json:"violated_invariant"`
	Message    string    `json:"message"`
	EventIndex int       `json:"event_index"`
	DetectedAt time.Time `json:"detected_at"`
}

// Recorder is the interface for the append-only violation feed.
type Recorder interface {
	// Add appends a record. A zero ID is assigned a fresh UUID.
	Add(ctx context.Context, rec *Record) error

	// List returns the most recent records, newest first, up to limit.
	List(ctx context.Context, limit int) ([]*Record, error)

	// Count returns the total number of recorded violations.
	Count(ctx context.Context) (uint64, error)
}

package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// ZeroHash is the fixed prev_hash of the genesis event. It anchors the
// chain; every other event's prev_hash is the computed hash of its
// predecessor.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// EventKind classifies an event on the governance ledger.
type EventKind string

// Event kinds recorded by the platform. VIOLATION events are written by the
// Watchdog and are never themselves subject to invariant rules.
const (
	KindGenesis          EventKind = "GENESIS"
	KindTaskAssigned     EventKind = "TASK_ASSIGNED"
	KindTaskCompleted    EventKind = "TASK_COMPLETED"
	KindLicenseCheck     EventKind = "LICENSE_CHECK"
	KindLicenseValid     EventKind = "LICENSE_VALID"
	KindBroadcast        EventKind = "BROADCAST"
	KindCreditTransfer   EventKind = "CREDIT_TRANSFER"
	KindProposalCreated  EventKind = "PROPOSAL_CREATED"
	KindProposalVotedYes EventKind = "PROPOSAL_VOTED_YES"
	KindProposalPassed   EventKind = "PROPOSAL_PASSED"
	KindViolation        EventKind = "VIOLATION"
)

// Sentinel errors for the ledger failure taxonomy. Callers match with
// errors.Is; wrapped messages carry the specifics.
var (
	// ErrValidation marks a malformed draft rejected at append time.
	// Nothing is written when it is returned.
	ErrValidation = errors.New("event validation failed")

	// ErrStorage marks a backing-store failure. The ledger is unusable
	// until the store recovers.
	ErrStorage = errors.New("ledger storage unavailable")

	// ErrIntegrity marks a hash-chain verification mismatch. The chain is
	// never auto-repaired.
	ErrIntegrity = errors.New("ledger chain integrity violated")
)

// Event is a single immutable record on the hash-chained governance ledger.
// Hash covers every other field, chained from the predecessor's Hash, so any
// out-of-band mutation is detectable by Verify.
type Event struct {
	Sequence  uint64         `json:"sequence_number"`
	TaskID    string         `json:"task_id"`
	AgentID   string         `json:"agent_id"`
	Kind      EventKind      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
}

// Draft is the caller-supplied portion of an event. Sequence, PrevHash and
// Hash are assigned by the store at append time.
type Draft struct {
	TaskID    string         `json:"task_id"`
	AgentID   string         `json:"agent_id"`
	Kind      EventKind      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Validate checks the required fields of a draft. Drafts failing validation
// are rejected entirely; nothing is partially written.
func (d *Draft) Validate() error {
	switch {
	case d.TaskID == "":
		return fmt.Errorf("%w: missing task_id", ErrValidation)
	case d.AgentID == "":
		return fmt.Errorf("%w: missing agent_id", ErrValidation)
	case d.Kind == "":
		return fmt.Errorf("%w: missing event_type", ErrValidation)
	case d.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrValidation)
	}
	return nil
}

// envelope is the hashed portion of an event: every field except Hash.
type envelope struct {
	Sequence  uint64         `json:"sequence_number"`
	TaskID    string         `json:"task_id"`
	AgentID   string         `json:"agent_id"`
	Kind      EventKind      `json:"event_type"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	PrevHash  string         `json:"prev_hash"`
}

// hashEvent computes the chain hash of an event: SHA-256 over the
// predecessor hash concatenated with the RFC 8785 canonical JSON of the
// envelope. Canonicalisation makes the hash independent of payload key
// order, so re-serialised events always re-verify.
func hashEvent(e *Event) (string, error) {
	raw, err := json.Marshal(envelope{
		Sequence:  e.Sequence,
		TaskID:    e.TaskID,
		AgentID:   e.AgentID,
		Kind:      e.Kind,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Payload:   e.Payload,
		PrevHash:  e.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize envelope: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sha256Sum returns the hex-encoded SHA-256 digest of data.
func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// GenesisDraft builds the first entry of a new chain. The payload anchors
// external reference documents (constitution text and similar) by digest so
// the chain is bound to the governance documents in force at creation.
func GenesisDraft(anchors map[string]string, now time.Time) *Draft {
	payload := make(map[string]any, len(anchors))
	for name, digest := range anchors {
		payload[name] = digest
	}
	return &Draft{
		TaskID:    "genesis",
		AgentID:   "aegis-system",
		Kind:      KindGenesis,
		Timestamp: now.UTC(),
		Payload:   payload,
	}
}

// AnchorDigest hashes a reference document for inclusion in the genesis
// payload.
func AnchorDigest(doc []byte) string {
	return sha256Sum(doc)
}

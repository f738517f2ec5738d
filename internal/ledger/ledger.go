// Package ledger implements the append-only, hash-chained event store at the
// heart of the governance core.
//
// The chain begins with a genesis event whose prev_hash equals ZeroHash
// (64 hex zeros) and whose payload anchors external governance documents by
// digest. Every subsequent event records the SHA-256 chain hash of its
// predecessor, making any tampering detectable via Verify.
//
// Two implementations of the Store interface are provided:
//   - MemoryStore: in-process, for testing and single-process deployments.
//   - PostgresStore: durable, for production use.
//
// Appends are serialised by a single writer (a mutex in MemoryStore, an
// advisory lock in PostgresStore) so sequence numbers and hash links are
// never interleaved, however many agents produce events concurrently.
package ledger

import "context"

// Store is the interface for the append-only event chain.
type Store interface {
	// Append validates the draft, assigns the next sequence number, links
	// and hashes the event, and persists it durably before returning.
	Append(ctx context.Context, draft *Draft) (*Event, error)

	// Get returns the event with the given 1-based sequence number.
	Get(ctx context.Context, seq uint64) (*Event, error)

	// Len returns the total number of events, including genesis.
	Len(ctx context.Context) (uint64, error)

	// Range walks events in sequence order starting at the 1-based
	// sequence from, calling fn for each. Walking stops at the first error
	// returned by fn, which is propagated. The walk observes a consistent
	// snapshot of the chain as of the call.
	Range(ctx context.Context, from uint64, fn func(*Event) error) error

	// Verify recomputes the hash chain from genesis forward and stops at
	// the first mismatch. The error return is reserved for storage
	// failures; integrity findings are carried in the report.
	Verify(ctx context.Context) (*IntegrityReport, error)

	// Root returns the hash of the most recent event (the chain tip).
	Root(ctx context.Context) (string, error)
}

// IntegrityReport is the outcome of a full-chain verification pass.
type IntegrityReport struct {
	// Valid is true when every link in the chain re-verified.
	Valid bool `json:"valid"`

	// FirstBroken is the sequence number of the first event whose link or
	// hash failed to re-verify. Zero when Valid.
	FirstBroken uint64 `json:"first_broken,omitempty"`

	// Checked is the number of events visited. On failure this is the
	// count up to and including the broken event; verification is
	// fail-fast and never repairs.
	Checked uint64 `json:"checked"`
}

// verifyStep checks one link of the chain. prev is nil for the genesis
// event. It returns false when the event fails verification.
func verifyStep(prev, curr *Event) bool {
	if prev == nil {
		if curr.Kind != KindGenesis || curr.PrevHash != ZeroHash {
			return false
		}
	} else if curr.PrevHash != prev.Hash {
		return false
	}
	want, err := hashEvent(curr)
	if err != nil {
		return false
	}
	return curr.Hash == want
}

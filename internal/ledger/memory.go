package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory, thread-safe Store implementation. It is
// primarily useful for testing and for single-process deployments that do
// not require durable persistence across restarts.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
}

// New creates a MemoryStore initialised with a genesis event anchoring the
// given reference-document digests.
func New(anchors map[string]string) (*MemoryStore, error) {
	s := &MemoryStore{}
	genesis, err := seal(GenesisDraft(anchors, time.Now()), 1, ZeroHash)
	if err != nil {
		return nil, fmt.Errorf("create genesis: %w", err)
	}
	s.events = append(s.events, genesis)
	return s, nil
}

// seal assigns sequence and chain linkage to a draft and computes its hash.
// Timestamps are truncated to microseconds, the finest precision TIMESTAMPTZ
// preserves; hashing anything finer would break verification after a
// storage round-trip.
func seal(d *Draft, seq uint64, prevHash string) (*Event, error) {
	e := &Event{
		Sequence:  seq,
		TaskID:    d.TaskID,
		AgentID:   d.AgentID,
		Kind:      d.Kind,
		Timestamp: d.Timestamp.UTC().Truncate(time.Microsecond),
		Payload:   d.Payload,
		PrevHash:  prevHash,
	}
	hash, err := hashEvent(e)
	if err != nil {
		return nil, err
	}
	e.Hash = hash
	return e, nil
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, draft *Draft) (*Event, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.events[len(s.events)-1]
	event, err := seal(draft, prev.Sequence+1, prev.Hash)
	if err != nil {
		return nil, fmt.Errorf("seal event: %w", err)
	}
	s.events = append(s.events, event)
	return event, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, seq uint64) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if seq < 1 || seq > uint64(len(s.events)) {
		return nil, fmt.Errorf("sequence %d out of range", seq)
	}
	return s.events[seq-1], nil
}

// Len implements Store.
func (s *MemoryStore) Len(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.events)), nil
}

// Range implements Store. The walk covers the chain as of the call; events
// appended while fn runs are not visited.
func (s *MemoryStore) Range(_ context.Context, from uint64, fn func(*Event) error) error {
	s.mu.RLock()
	snapshot := s.events
	s.mu.RUnlock()

	if from < 1 {
		from = 1
	}
	for _, e := range snapshot {
		if e.Sequence < from {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Verify implements Store. It recomputes every hash from genesis forward
// and stops at the first mismatch.
func (s *MemoryStore) Verify(_ context.Context) (*IntegrityReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var prev *Event
	for i, curr := range s.events {
		if !verifyStep(prev, curr) {
			return &IntegrityReport{
				Valid:       false,
				FirstBroken: curr.Sequence,
				Checked:     uint64(i + 1),
			}, nil
		}
		prev = curr
	}
	return &IntegrityReport{Valid: true, Checked: uint64(len(s.events))}, nil
}

// Root implements Store.
func (s *MemoryStore) Root(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events[len(s.events)-1].Hash, nil
}

// Tamper overwrites the stored event at the given sequence, bypassing the
// append path. It exists only so integrity-detection tests can simulate
// out-of-band corruption.
func (s *MemoryStore) Tamper(seq uint64, mutate func(*Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq >= 1 && seq <= uint64(len(s.events)) {
		clone := *s.events[seq-1]
		mutate(&clone)
		s.events[seq-1] = &clone
	}
}

package feed

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryFeed is an in-memory, thread-safe Recorder implementation.
type MemoryFeed struct {
	mu      sync.RWMutex
	records []*Record
}

// New creates an empty MemoryFeed.
func New() *MemoryFeed {
	return &MemoryFeed{}
}

// Add implements Recorder.
func (f *MemoryFeed) Add(_ context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

// List implements Recorder.
func (f *MemoryFeed) List(_ context.Context, limit int) ([]*Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := len(f.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Record, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, f.records[i])
	}
	return out, nil
}

// Count implements Recorder.
func (f *MemoryFeed) Count(_ context.Context) (uint64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return uint64(len(f.records)), nil
}

package memory

import (
	"context"
	"sort"
	"sync"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
)

// DefaultCallLogCapacity bounds the in-memory call log.
const DefaultCallLogCapacity = 1000

type CallLogRepository struct {
	mu       sync.RWMutex
	entries  []domain.CallLogEntry // oldest first
	ids      map[string]struct{}
	capacity int
}

func NewCallLogRepository(capacity int) *CallLogRepository {
	if capacity <= 0 {
		capacity = DefaultCallLogCapacity
	}
	return &CallLogRepository{
		ids:      make(map[string]struct{}),
		capacity: capacity,
	}
}

var _ ports.CallLogRepository = (*CallLogRepository)(nil)

// Insert keeps entries ordered by timestamp and ignores ids it already has, so
// replaying a snapshot is harmless.
func (r *CallLogRepository) Insert(ctx context.Context, entry domain.CallLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.ids[entry.ID]; dup {
		return nil
	}

	i := sort.Search(len(r.entries), func(i int) bool {
		return r.entries[i].Timestamp.After(entry.Timestamp)
	})
	r.entries = append(r.entries, domain.CallLogEntry{})
	copy(r.entries[i+1:], r.entries[i:])
	r.entries[i] = entry
	r.ids[entry.ID] = struct{}{}

	for len(r.entries) > r.capacity {
		delete(r.ids, r.entries[0].ID)
		r.entries = r.entries[1:]
	}
	return nil
}

// List returns the newest entries first. A non-positive limit returns all.
func (r *CallLogRepository) List(ctx context.Context, limit int) ([]domain.CallLogEntry, error) {
	return r.collect(limit, func(domain.CallLogEntry) bool { return true }), nil
}

func (r *CallLogRepository) ListByRecipient(ctx context.Context, recipient domain.RecipientID, limit int) ([]domain.CallLogEntry, error) {
	return r.collect(limit, func(e domain.CallLogEntry) bool { return e.Recipient == recipient }), nil
}

func (r *CallLogRepository) collect(limit int, keep func(domain.CallLogEntry) bool) []domain.CallLogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.CallLogEntry, 0)
	for i := len(r.entries) - 1; i >= 0; i-- {
		if !keep(r.entries[i]) {
			continue
		}
		out = append(out, r.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (r *CallLogRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

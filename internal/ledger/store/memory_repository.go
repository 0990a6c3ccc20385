package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finx/finx-backend/internal/domain"
)

// MemoryRepository is a concurrency-safe in-memory implementation of the
// ledger Repository, useful for unit tests.
type MemoryRepository struct {
	mu        sync.Mutex
	entries   []domain.LedgerEntry
	processed map[uuid.UUID]struct{}
}

// NewMemoryRepository creates an empty in-memory ledger repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{processed: make(map[uuid.UUID]struct{})}
}

func (r *MemoryRepository) AppendEntries(ctx context.Context, eventID uuid.UUID, entries []domain.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, done := r.processed[eventID]; done {
		return ErrDuplicateEvent
	}
	r.processed[eventID] = struct{}{}
	r.entries = append(r.entries, entries...)
	return nil
}

func (r *MemoryRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []domain.LedgerEntry
	for _, e := range r.entries {
		if e.OwnerID == ownerID {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *MemoryRepository) ListByRange(ctx context.Context, from, to time.Time) ([]domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []domain.LedgerEntry
	for _, e := range r.entries {
		if !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Timestamp.Before(matched[j].Timestamp) })
	return matched, nil
}

// AllEntries returns a snapshot of every entry. Test helper.
func (r *MemoryRepository) AllEntries() []domain.LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.LedgerEntry(nil), r.entries...)
}

var _ Repository = (*MemoryRepository)(nil)

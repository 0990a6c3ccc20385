package app

import (
	"context"
	"errors"
	"time"

	"github.com/finx/finx-backend/internal/domain"
	"github.com/finx/finx-backend/internal/ledger/store"
)

// ErrInvalidRange marks a time-range query whose bounds are missing or inverted.
var ErrInvalidRange = errors.New("invalid time range")

const (
	defaultEntryLimit = 100
	maxEntryLimit     = 500
)

// Service serves the ledger's read API.
type Service struct {
	repo store.Repository
}

func NewService(repo store.Repository) *Service {
	return &Service{repo: repo}
}

// EntriesForOwner returns the owner's ledger entries newest-first.
func (s *Service) EntriesForOwner(ctx context.Context, ownerID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultEntryLimit
	}
	if limit > maxEntryLimit {
		limit = maxEntryLimit
	}
	return s.repo.ListByOwner(ctx, ownerID, limit)
}

// EntriesInRange returns all entries with from <= timestamp < to.
func (s *Service) EntriesInRange(ctx context.Context, from, to time.Time) ([]domain.LedgerEntry, error) {
	if from.IsZero() || to.IsZero() || !from.Before(to) {
		return nil, ErrInvalidRange
	}
	return s.repo.ListByRange(ctx, from, to)
}

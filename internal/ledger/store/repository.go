/**
 * @description
 * This file defines the `Repository` interface for the ledger service. The
 * single write path, AppendEntries, couples the idempotency marker and the
 * entry rows in one transaction: either the event id is recorded and every
 * entry is appended, or nothing is. Redelivering an already-processed event
 * returns ErrDuplicateEvent and leaves the ledger untouched.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/finx/finx-backend/internal/domain"
)

// ErrDuplicateEvent indicates the event id has already been processed and the
// delivery should be acknowledged without appending anything.
var ErrDuplicateEvent = errors.New("event already processed")

// Repository defines the ledger service's data access operations.
type Repository interface {
	// AppendEntries records the event id and appends all entries atomically.
	AppendEntries(ctx context.Context, eventID uuid.UUID, entries []domain.LedgerEntry) error

	// ListByOwner returns the owner's entries newest-first, at most limit.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.LedgerEntry, error)

	// ListByRange returns entries with from <= timestamp < to, oldest first.
	ListByRange(ctx context.Context, from, to time.Time) ([]domain.LedgerEntry, error)
}

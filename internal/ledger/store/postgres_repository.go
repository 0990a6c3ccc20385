/**
 * @description
 * This file provides the PostgreSQL implementation of the ledger `Repository`
 * interface using pgx.
 *
 * Expected schema (managed externally):
 *   ledger_entries(id uuid pk, owner_id text, wallet_id text, type text,
 *           amount numeric check (amount > 0), reference text, ts timestamptz)
 *   processed_events(event_id uuid pk, processed_at timestamptz)
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finx/finx-backend/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) AppendEntries(ctx context.Context, eventID uuid.UUID, entries []domain.LedgerEntry) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// The primary key on event_id is the dedup gate: the insert no-ops on a
	// replay and the affected-row count tells us to bail out before touching
	// ledger_entries.
	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_events (event_id, processed_at)
		VALUES ($1, now())
		ON CONFLICT (event_id) DO NOTHING`, eventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateEvent
	}

	for _, entry := range entries {
		_, err := tx.Exec(ctx, `
			INSERT INTO ledger_entries (id, owner_id, wallet_id, type, amount, reference, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			entry.ID, entry.OwnerID, entry.WalletID, entry.Type, entry.Amount, entry.Reference, entry.Timestamp)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, owner_id, wallet_id, type, amount, reference, ts
		FROM ledger_entries
		WHERE owner_id = $1
		ORDER BY ts DESC, id DESC
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (r *PostgresRepository) ListByRange(ctx context.Context, from, to time.Time) ([]domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, owner_id, wallet_id, type, amount, reference, ts
		FROM ledger_entries
		WHERE ts >= $1 AND ts < $2
		ORDER BY ts ASC, id ASC`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.WalletID, &e.Type, &e.Amount, &e.Reference, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ Repository = (*PostgresRepository)(nil)

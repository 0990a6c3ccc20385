/**
 * @description
 * This file provides the PostgreSQL implementation of the wallet `Repository`
 * interface using pgx. Mutations take a `SELECT ... FOR UPDATE` row lock on
 * the wallet so two concurrent mutations of the same owner serialize at the
 * database; a transfer locks both rows in lexicographic owner order so two
 * opposite-direction transfers cannot deadlock.
 *
 * Expected schema (managed externally):
 *   wallets(id uuid pk, owner_id text unique, balance numeric not null
 *           check (balance >= 0), created_at timestamptz, updated_at timestamptz)
 *   wallet_transactions(id uuid pk, wallet_id uuid references wallets,
 *           type text, amount numeric check (amount > 0),
 *           related_owner_id text, reference text, created_at timestamptz)
 *   event_outbox(id bigserial pk, exchange text, routing_key text,
 *           payload jsonb, status text, attempts int, next_attempt_at
 *           timestamptz, claimed_at timestamptz, published_at timestamptz,
 *           last_error text, created_at timestamptz)
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/finx/finx-backend/internal/domain"
)

const uniqueViolation = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetOrCreateWallet(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	// The unique constraint on owner_id makes the insert race-safe: of N
	// concurrent first accesses exactly one insert wins, the rest no-op.
	_, err := r.db.Exec(ctx, `
		INSERT INTO wallets (id, owner_id, balance, created_at, updated_at)
		VALUES ($1, $2, 0, now(), now())
		ON CONFLICT (owner_id) DO NOTHING`, uuid.New(), ownerID)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	return r.FindWalletByOwner(ctx, ownerID)
}

func (r *PostgresRepository) FindWalletByOwner(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	var w domain.Wallet
	err := r.db.QueryRow(ctx, `
		SELECT id, owner_id, balance, created_at, updated_at
		FROM wallets WHERE owner_id = $1`, ownerID).
		Scan(&w.ID, &w.OwnerID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *PostgresRepository) CreditWalletAndEnqueueEvent(ctx context.Context, ownerID string, amount decimal.Decimal, reference *string, exchange string) (*domain.Wallet, *domain.WalletTransaction, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	w, err := lockWalletTx(ctx, tx, ownerID, true)
	if err != nil {
		return nil, nil, err
	}

	w.Balance = w.Balance.Add(amount)
	if err := updateBalanceTx(ctx, tx, w); err != nil {
		return nil, nil, err
	}

	txn, err := insertTransactionTx(ctx, tx, w.ID, domain.TxTypeCredit, amount, nil, reference)
	if err != nil {
		return nil, nil, err
	}

	event := domain.NewWalletCreditedEvent(w, txn)
	if err := enqueueEventTx(ctx, tx, exchange, domain.RoutingKeyWalletCredited, event); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return w, txn, nil
}

func (r *PostgresRepository) DebitWalletAndEnqueueEvent(ctx context.Context, ownerID string, amount decimal.Decimal, reference *string, exchange string) (*domain.Wallet, *domain.WalletTransaction, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	w, err := lockWalletTx(ctx, tx, ownerID, false)
	if err != nil {
		return nil, nil, err
	}
	if w.Balance.LessThan(amount) {
		return nil, nil, ErrInsufficientFunds
	}

	w.Balance = w.Balance.Sub(amount)
	if err := updateBalanceTx(ctx, tx, w); err != nil {
		return nil, nil, err
	}

	txn, err := insertTransactionTx(ctx, tx, w.ID, domain.TxTypeDebit, amount, nil, reference)
	if err != nil {
		return nil, nil, err
	}

	event := domain.NewWalletDebitedEvent(w, txn)
	if err := enqueueEventTx(ctx, tx, exchange, domain.RoutingKeyWalletDebited, event); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return w, txn, nil
}

func (r *PostgresRepository) TransferAndEnqueueEvent(ctx context.Context, fromOwner, toOwner string, amount decimal.Decimal, reference *string, exchange string) (*domain.Wallet, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Lock both rows in a fixed global order so two opposite-direction
	// transfers between the same pair cannot deadlock.
	first, second := fromOwner, toOwner
	if second < first {
		first, second = second, first
	}

	var sender, receiver *domain.Wallet
	lock := func(owner string) (*domain.Wallet, error) {
		if owner == fromOwner {
			return lockWalletTx(ctx, tx, owner, false)
		}
		return lockWalletTx(ctx, tx, owner, true)
	}
	firstWallet, err := lock(first)
	if err != nil {
		return nil, err
	}
	secondWallet, err := lock(second)
	if err != nil {
		return nil, err
	}
	if first == fromOwner {
		sender, receiver = firstWallet, secondWallet
	} else {
		sender, receiver = secondWallet, firstWallet
	}

	if sender.Balance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	sender.Balance = sender.Balance.Sub(amount)
	receiver.Balance = receiver.Balance.Add(amount)
	if err := updateBalanceTx(ctx, tx, sender); err != nil {
		return nil, err
	}
	if err := updateBalanceTx(ctx, tx, receiver); err != nil {
		return nil, err
	}

	outTxn, err := insertTransactionTx(ctx, tx, sender.ID, domain.TxTypeTransferOut, amount, &toOwner, reference)
	if err != nil {
		return nil, err
	}
	if _, err := insertTransactionTx(ctx, tx, receiver.ID, domain.TxTypeTransferIn, amount, &fromOwner, reference); err != nil {
		return nil, err
	}

	event := domain.NewWalletTransferredEvent(fromOwner, toOwner, amount, reference, outTxn.CreatedAt)
	if err := enqueueEventTx(ctx, tx, exchange, domain.RoutingKeyWalletTransferred, event); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return sender, nil
}

func (r *PostgresRepository) ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.WalletTransaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, wallet_id, type, amount, related_owner_id, reference, created_at
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []domain.WalletTransaction
	for rows.Next() {
		var t domain.WalletTransaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Type, &t.Amount, &t.RelatedOwnerID, &t.Reference, &t.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// lockWalletTx locks the owner's wallet row for the duration of tx. When
// createIfMissing is set an absent wallet is inserted first; the reselect
// after insert handles the race where a concurrent transaction won the insert.
func lockWalletTx(ctx context.Context, tx pgx.Tx, ownerID string, createIfMissing bool) (*domain.Wallet, error) {
	var w domain.Wallet
	selectForUpdate := `
		SELECT id, owner_id, balance, created_at, updated_at
		FROM wallets WHERE owner_id = $1 FOR UPDATE`

	err := tx.QueryRow(ctx, selectForUpdate, ownerID).
		Scan(&w.ID, &w.OwnerID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err == nil {
		return &w, nil
	}
	if err != pgx.ErrNoRows {
		return nil, err
	}
	if !createIfMissing {
		return nil, ErrWalletNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO wallets (id, owner_id, balance, created_at, updated_at)
		VALUES ($1, $2, 0, now(), now())
		ON CONFLICT (owner_id) DO NOTHING`, uuid.New(), ownerID)
	if err != nil {
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
			return nil, err
		}
	}

	err = tx.QueryRow(ctx, selectForUpdate, ownerID).
		Scan(&w.ID, &w.OwnerID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func updateBalanceTx(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	return tx.QueryRow(ctx, `
		UPDATE wallets SET balance = $1, updated_at = now()
		WHERE id = $2
		RETURNING updated_at`, w.Balance, w.ID).Scan(&w.UpdatedAt)
}

func insertTransactionTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, txType string, amount decimal.Decimal, relatedOwner, reference *string) (*domain.WalletTransaction, error) {
	txn := domain.WalletTransaction{
		ID:             uuid.New(),
		WalletID:       walletID,
		Type:           txType,
		Amount:         amount,
		RelatedOwnerID: relatedOwner,
		Reference:      reference,
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, type, amount, related_owner_id, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING created_at`,
		txn.ID, txn.WalletID, txn.Type, txn.Amount, txn.RelatedOwnerID, txn.Reference).
		Scan(&txn.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func enqueueEventTx(ctx context.Context, tx pgx.Tx, exchange, routingKey string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO event_outbox (exchange, routing_key, payload, status, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, 'pending', 0, now(), now())`,
		exchange, routingKey, payload)
	return err
}

func (r *PostgresRepository) ClaimOutboxMessages(ctx context.Context, batchSize int, staleAfterSeconds int) ([]OutboxMessage, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE event_outbox SET status = 'processing', attempts = attempts + 1, claimed_at = now()
		WHERE id IN (
			SELECT id FROM event_outbox
			WHERE (status = 'pending' AND next_attempt_at <= now())
			   OR (status = 'processing' AND claimed_at < now() - make_interval(secs => $2))
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, exchange, routing_key, payload, attempts`,
		batchSize, staleAfterSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.ID, &m.Exchange, &m.RoutingKey, &m.Payload, &m.Attempts); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *PostgresRepository) MarkOutboxPublished(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE event_outbox SET status = 'published', published_at = now()
		WHERE id = $1`, id)
	return err
}

func (r *PostgresRepository) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE event_outbox
		SET status = 'pending', next_attempt_at = now() + make_interval(secs => $2), last_error = $3
		WHERE id = $1`, id, retryAfterSeconds, reason)
	return err
}

var _ Repository = (*PostgresRepository)(nil)

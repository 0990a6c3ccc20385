/**
 * @description
 * This file defines the `Repository` interface for the wallet service's data
 * access layer. Every balance mutation is a single atomic unit: the wallet row
 * update, the wallet transaction record, and the outbound event enqueued into
 * the outbox table commit together or not at all. Publishing to the broker is
 * never part of these transactions; the outbox dispatcher picks the event up
 * after commit.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid, github.com/shopspring/decimal: id and money types.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finx/finx-backend/internal/domain"
)

var (
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// OutboxMessage is one pending domain event claimed by the dispatcher.
type OutboxMessage struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}

// Repository defines the set of methods for interacting with wallet state.
type Repository interface {
	// GetOrCreateWallet returns the owner's wallet, creating a zero-balance
	// one if absent. Safe under concurrent first access: the owner_id unique
	// constraint guarantees at most one row ever exists.
	GetOrCreateWallet(ctx context.Context, ownerID string) (*domain.Wallet, error)

	// FindWalletByOwner returns the wallet or ErrWalletNotFound.
	FindWalletByOwner(ctx context.Context, ownerID string) (*domain.Wallet, error)

	// CreditWalletAndEnqueueEvent atomically increases the balance, appends a
	// CREDIT record, and enqueues a WalletCredited event. The wallet is
	// created if absent.
	CreditWalletAndEnqueueEvent(ctx context.Context, ownerID string, amount decimal.Decimal, reference *string, exchange string) (*domain.Wallet, *domain.WalletTransaction, error)

	// DebitWalletAndEnqueueEvent atomically decreases the balance, appends a
	// DEBIT record, and enqueues a WalletDebited event. Returns
	// ErrWalletNotFound if the wallet is absent and ErrInsufficientFunds if
	// the balance would go negative.
	DebitWalletAndEnqueueEvent(ctx context.Context, ownerID string, amount decimal.Decimal, reference *string, exchange string) (*domain.Wallet, *domain.WalletTransaction, error)

	// TransferAndEnqueueEvent atomically moves amount between two owners,
	// appending TRANSFER_OUT and TRANSFER_IN records and enqueueing a single
	// WalletTransferred event. The destination wallet is created if absent.
	// Returns the sender's updated wallet.
	TransferAndEnqueueEvent(ctx context.Context, fromOwner, toOwner string, amount decimal.Decimal, reference *string, exchange string) (*domain.Wallet, error)

	// ListTransactions returns the wallet's records newest-first, at most limit.
	ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.WalletTransaction, error)

	// Outbox methods used by the dispatcher.
	ClaimOutboxMessages(ctx context.Context, batchSize int, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
}

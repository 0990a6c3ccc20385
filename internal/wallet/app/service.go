/**
 * @description
 * This file contains the core wallet engine. It enforces the business rules
 * for credit, debit, and transfer, serializes concurrent mutations per owner,
 * and hands the atomic store mutation off to the repository. Event publishing
 * is decoupled from the mutation: the repository enqueues the event in the
 * same database transaction, and the outbox dispatcher is nudged after commit
 * so a slow or unavailable broker can only delay delivery, never fail or
 * stall a wallet operation.
 *
 * @dependencies
 * - internal/wallet/store: Repository interface and data-layer errors.
 * - internal/domain: Domain models.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finx/finx-backend/internal/domain"
	"github.com/finx/finx-backend/internal/wallet/store"
)

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrSameAccount   = errors.New("cannot transfer to the same account")
	ErrRateLimited   = errors.New("too many wallet mutations")
)

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 200

	mutationRateScope  = "wallet_mutation"
	mutationRateWindow = time.Minute
)

// RateLimiter is implemented by the Redis-backed fixed-window limiter.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service is the wallet engine. All operations are keyed by the opaque owner
// identifier issued by the external identity component.
type Service struct {
	repo       store.Repository
	exchange   string
	locks      *ownerLocks
	dispatcher *OutboxDispatcher

	rateLimiter       RateLimiter
	mutationRateLimit int
}

// NewService creates the wallet engine. dispatcher may be nil in tests; the
// outbox rows are still written and can be flushed later.
func NewService(repo store.Repository, exchange string, dispatcher *OutboxDispatcher) *Service {
	return &Service{
		repo:       repo,
		exchange:   exchange,
		locks:      newOwnerLocks(),
		dispatcher: dispatcher,
	}
}

// SetRateLimiter enables per-owner mutation rate limiting. A nil limiter or
// non-positive limit disables the check.
func (s *Service) SetRateLimiter(limiter RateLimiter, perMinute int) {
	s.rateLimiter = limiter
	s.mutationRateLimit = perMinute
}

// GetOrCreate returns the owner's wallet, creating a zero-balance one on
// first access.
func (s *Service) GetOrCreate(ctx context.Context, owner string) (*domain.Wallet, error) {
	return s.repo.GetOrCreateWallet(ctx, owner)
}

// Credit atomically increases the owner's balance, creating the wallet if
// absent, and emits a WalletCredited event after commit.
func (s *Service) Credit(ctx context.Context, owner string, amount decimal.Decimal, reference *string) (*domain.Wallet, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if err := s.allowMutation(ctx, owner); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(owner)
	wallet, txn, err := s.repo.CreditWalletAndEnqueueEvent(ctx, owner, amount, reference, s.exchange)
	unlock()
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=wallet_engine msg=\"wallet credited\" owner_id=%s wallet_id=%s amount=%s txn_id=%s",
		owner, wallet.ID, amount, txn.ID)
	s.nudgeDispatcher()
	return wallet, nil
}

// Debit atomically decreases the owner's balance and emits a WalletDebited
// event after commit. The wallet must exist and cover the amount.
func (s *Service) Debit(ctx context.Context, owner string, amount decimal.Decimal, reference *string) (*domain.Wallet, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if err := s.allowMutation(ctx, owner); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(owner)
	wallet, txn, err := s.repo.DebitWalletAndEnqueueEvent(ctx, owner, amount, reference, s.exchange)
	unlock()
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=wallet_engine msg=\"wallet debited\" owner_id=%s wallet_id=%s amount=%s txn_id=%s",
		owner, wallet.ID, amount, txn.ID)
	s.nudgeDispatcher()
	return wallet, nil
}

// Transfer atomically moves amount from one owner to another. The destination
// wallet is created if absent; one WalletTransferred event covers both sides.
func (s *Service) Transfer(ctx context.Context, fromOwner, toOwner string, amount decimal.Decimal, reference *string) (*domain.Wallet, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if fromOwner == toOwner {
		return nil, ErrSameAccount
	}
	if err := s.allowMutation(ctx, fromOwner); err != nil {
		return nil, err
	}

	unlock := s.locks.lockPair(fromOwner, toOwner)
	wallet, err := s.repo.TransferAndEnqueueEvent(ctx, fromOwner, toOwner, amount, reference, s.exchange)
	unlock()
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=wallet_engine msg=\"wallet transfer committed\" from_owner=%s to_owner=%s amount=%s",
		fromOwner, toOwner, amount)
	s.nudgeDispatcher()
	return wallet, nil
}

// ListTransactions returns the owner's records newest-first, bounded by limit.
func (s *Service) ListTransactions(ctx context.Context, owner string, limit int) ([]domain.WalletTransaction, error) {
	if limit <= 0 {
		limit = defaultTransactionLimit
	}
	if limit > maxTransactionLimit {
		limit = maxTransactionLimit
	}

	wallet, err := s.repo.FindWalletByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, wallet.ID, limit)
}

func (s *Service) allowMutation(ctx context.Context, owner string) error {
	if s.rateLimiter == nil || s.mutationRateLimit <= 0 {
		return nil
	}
	count, _, err := s.rateLimiter.ConsumeRateLimit(ctx, mutationRateScope, owner, s.mutationRateLimit, mutationRateWindow)
	if err != nil {
		// A broken limiter must not block money movement.
		log.Printf("level=warn component=wallet_engine msg=\"rate limiter unavailable; allowing mutation\" owner_id=%s err=%v", owner, err)
		return nil
	}
	if count > s.mutationRateLimit {
		return ErrRateLimited
	}
	return nil
}

func (s *Service) nudgeDispatcher() {
	if s.dispatcher != nil {
		s.dispatcher.Nudge()
	}
}

package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finx/finx-backend/internal/domain"
)

// MemoryRepository is a concurrency-safe in-memory implementation of the
// wallet Repository, useful for unit tests.
type MemoryRepository struct {
	mu           sync.Mutex
	wallets      map[string]*domain.Wallet // keyed by owner id
	transactions map[uuid.UUID][]domain.WalletTransaction
	outbox       []*memoryOutboxRow
	nextOutboxID int64
}

type memoryOutboxRow struct {
	msg           OutboxMessage
	status        string
	nextAttemptAt time.Time
	lastError     string
}

// NewMemoryRepository creates an empty in-memory wallet repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		wallets:      make(map[string]*domain.Wallet),
		transactions: make(map[uuid.UUID][]domain.WalletTransaction),
		nextOutboxID: 1,
	}
}

func (r *MemoryRepository) GetOrCreateWallet(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.getOrCreateLocked(ownerID)
	copied := *w
	return &copied, nil
}

func (r *MemoryRepository) FindWalletByOwner(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[ownerID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	copied := *w
	return &copied, nil
}

func (r *MemoryRepository) CreditWalletAndEnqueueEvent(ctx context.Context, ownerID string, amount decimal.Decimal, reference *string, exchange string) (*domain.Wallet, *domain.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.getOrCreateLocked(ownerID)
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = time.Now().UTC()
	txn := r.appendTransactionLocked(w.ID, domain.TxTypeCredit, amount, nil, reference)

	copied := *w
	event := domain.NewWalletCreditedEvent(&copied, txn)
	r.enqueueLocked(exchange, domain.RoutingKeyWalletCredited, event)
	return &copied, txn, nil
}

func (r *MemoryRepository) DebitWalletAndEnqueueEvent(ctx context.Context, ownerID string, amount decimal.Decimal, reference *string, exchange string) (*domain.Wallet, *domain.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.wallets[ownerID]
	if !ok {
		return nil, nil, ErrWalletNotFound
	}
	if w.Balance.LessThan(amount) {
		return nil, nil, ErrInsufficientFunds
	}

	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = time.Now().UTC()
	txn := r.appendTransactionLocked(w.ID, domain.TxTypeDebit, amount, nil, reference)

	copied := *w
	event := domain.NewWalletDebitedEvent(&copied, txn)
	r.enqueueLocked(exchange, domain.RoutingKeyWalletDebited, event)
	return &copied, txn, nil
}

func (r *MemoryRepository) TransferAndEnqueueEvent(ctx context.Context, fromOwner, toOwner string, amount decimal.Decimal, reference *string, exchange string) (*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sender, ok := r.wallets[fromOwner]
	if !ok {
		return nil, ErrWalletNotFound
	}
	if sender.Balance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}
	receiver := r.getOrCreateLocked(toOwner)

	sender.Balance = sender.Balance.Sub(amount)
	sender.UpdatedAt = time.Now().UTC()
	receiver.Balance = receiver.Balance.Add(amount)
	receiver.UpdatedAt = sender.UpdatedAt

	outTxn := r.appendTransactionLocked(sender.ID, domain.TxTypeTransferOut, amount, &toOwner, reference)
	r.appendTransactionLocked(receiver.ID, domain.TxTypeTransferIn, amount, &fromOwner, reference)

	event := domain.NewWalletTransferredEvent(fromOwner, toOwner, amount, reference, outTxn.CreatedAt)
	r.enqueueLocked(exchange, domain.RoutingKeyWalletTransferred, event)

	copied := *sender
	return &copied, nil
}

func (r *MemoryRepository) ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	txns := append([]domain.WalletTransaction(nil), r.transactions[walletID]...)
	sort.SliceStable(txns, func(i, j int) bool { return txns[i].CreatedAt.After(txns[j].CreatedAt) })
	if limit > 0 && len(txns) > limit {
		txns = txns[:limit]
	}
	return txns, nil
}

func (r *MemoryRepository) ClaimOutboxMessages(ctx context.Context, batchSize int, staleAfterSeconds int) ([]OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var claimed []OutboxMessage
	for _, row := range r.outbox {
		if len(claimed) >= batchSize {
			break
		}
		if row.status == "pending" && !row.nextAttemptAt.After(now) {
			row.status = "processing"
			row.msg.Attempts++
			claimed = append(claimed, row.msg)
		}
	}
	return claimed, nil
}

func (r *MemoryRepository) MarkOutboxPublished(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.outbox {
		if row.msg.ID == id {
			row.status = "published"
			return nil
		}
	}
	return nil
}

func (r *MemoryRepository) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.outbox {
		if row.msg.ID == id {
			row.status = "pending"
			row.nextAttemptAt = time.Now().Add(time.Duration(retryAfterSeconds) * time.Second)
			row.lastError = reason
			return nil
		}
	}
	return nil
}

// PendingOutbox returns unpublished outbox messages, oldest first. Test helper.
func (r *MemoryRepository) PendingOutbox() []OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending []OutboxMessage
	for _, row := range r.outbox {
		if row.status != "published" {
			pending = append(pending, row.msg)
		}
	}
	return pending
}

// PublishedOutbox returns published outbox messages, oldest first. Test helper.
func (r *MemoryRepository) PublishedOutbox() []OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var published []OutboxMessage
	for _, row := range r.outbox {
		if row.status == "published" {
			published = append(published, row.msg)
		}
	}
	return published
}

func (r *MemoryRepository) getOrCreateLocked(ownerID string) *domain.Wallet {
	if w, ok := r.wallets[ownerID]; ok {
		return w
	}
	now := time.Now().UTC()
	w := &domain.Wallet{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.wallets[ownerID] = w
	return w
}

func (r *MemoryRepository) appendTransactionLocked(walletID uuid.UUID, txType string, amount decimal.Decimal, relatedOwner, reference *string) *domain.WalletTransaction {
	txn := domain.WalletTransaction{
		ID:             uuid.New(),
		WalletID:       walletID,
		Type:           txType,
		Amount:         amount,
		RelatedOwnerID: relatedOwner,
		Reference:      reference,
		CreatedAt:      time.Now().UTC(),
	}
	r.transactions[walletID] = append(r.transactions[walletID], txn)
	return &txn
}

func (r *MemoryRepository) enqueueLocked(exchange, routingKey string, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	r.outbox = append(r.outbox, &memoryOutboxRow{
		msg: OutboxMessage{
			ID:         r.nextOutboxID,
			Exchange:   exchange,
			RoutingKey: routingKey,
			Payload:    payload,
		},
		status:        "pending",
		nextAttemptAt: time.Now(),
	})
	r.nextOutboxID++
}

var _ Repository = (*MemoryRepository)(nil)

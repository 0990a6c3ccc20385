package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finx/finx-backend/internal/domain"
	"github.com/finx/finx-backend/internal/wallet/store"
)

const testExchange = "finx.exchange.test"

func newTestService() (*Service, *store.MemoryRepository) {
	repo := store.NewMemoryRepository()
	return NewService(repo, testExchange, nil), repo
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	return decimal.RequireFromString(s)
}

func TestService_CreditDebitTransferScenario(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	ref := "initial top-up"
	wallet, err := svc.Credit(ctx, "alice", mustDecimal(t, "100"), &ref)
	if err != nil {
		t.Fatalf("Credit returned error: %v", err)
	}
	if !wallet.Balance.Equal(mustDecimal(t, "100")) {
		t.Fatalf("expected balance 100 after credit, got %s", wallet.Balance)
	}

	wallet, err = svc.Debit(ctx, "alice", mustDecimal(t, "30"), nil)
	if err != nil {
		t.Fatalf("Debit returned error: %v", err)
	}
	if !wallet.Balance.Equal(mustDecimal(t, "70")) {
		t.Fatalf("expected balance 70 after debit, got %s", wallet.Balance)
	}

	wallet, err = svc.Transfer(ctx, "alice", "bob", mustDecimal(t, "20"), nil)
	if err != nil {
		t.Fatalf("Transfer returned error: %v", err)
	}
	if !wallet.Balance.Equal(mustDecimal(t, "50")) {
		t.Fatalf("expected sender balance 50 after transfer, got %s", wallet.Balance)
	}

	bob, err := svc.GetOrCreate(ctx, "bob")
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %v", err)
	}
	if !bob.Balance.Equal(mustDecimal(t, "20")) {
		t.Fatalf("expected receiver balance 20, got %s", bob.Balance)
	}

	aliceTxns, err := svc.ListTransactions(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("ListTransactions returned error: %v", err)
	}
	if len(aliceTxns) != 3 {
		t.Fatalf("expected 3 transactions for alice, got %d", len(aliceTxns))
	}
	// Newest first.
	if aliceTxns[0].Type != domain.TxTypeTransferOut {
		t.Fatalf("expected newest transaction TRANSFER_OUT, got %s", aliceTxns[0].Type)
	}

	bobTxns, err := svc.ListTransactions(ctx, "bob", 0)
	if err != nil {
		t.Fatalf("ListTransactions returned error: %v", err)
	}
	if len(bobTxns) != 1 || bobTxns[0].Type != domain.TxTypeTransferIn {
		t.Fatalf("expected one TRANSFER_IN transaction for bob, got %+v", bobTxns)
	}

	pending := repo.PendingOutbox()
	if len(pending) != 3 {
		t.Fatalf("expected 3 enqueued events, got %d", len(pending))
	}
	wantKeys := []string{
		domain.RoutingKeyWalletCredited,
		domain.RoutingKeyWalletDebited,
		domain.RoutingKeyWalletTransferred,
	}
	for i, msg := range pending {
		if msg.Exchange != testExchange {
			t.Fatalf("expected exchange %q, got %q", testExchange, msg.Exchange)
		}
		if msg.RoutingKey != wantKeys[i] {
			t.Fatalf("expected routing key %q at index %d, got %q", wantKeys[i], i, msg.RoutingKey)
		}
		if _, err := domain.ParseWalletEvent(msg.Payload); err != nil {
			t.Fatalf("enqueued payload does not parse: %v", err)
		}
	}
}

func TestService_RejectsNonPositiveAmounts(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	for _, amount := range []string{"0", "-1"} {
		if _, err := svc.Credit(ctx, "alice", mustDecimal(t, amount), nil); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("Credit(%s): expected ErrInvalidAmount, got %v", amount, err)
		}
		if _, err := svc.Debit(ctx, "alice", mustDecimal(t, amount), nil); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("Debit(%s): expected ErrInvalidAmount, got %v", amount, err)
		}
		if _, err := svc.Transfer(ctx, "alice", "bob", mustDecimal(t, amount), nil); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("Transfer(%s): expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	if len(repo.PendingOutbox()) != 0 {
		t.Fatal("expected no events enqueued for rejected operations")
	}
}

func TestService_TransferToSelfRejected(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Transfer(context.Background(), "alice", "alice", mustDecimal(t, "10"), nil); !errors.Is(err, ErrSameAccount) {
		t.Fatalf("expected ErrSameAccount, got %v", err)
	}
}

func TestService_DebitMissingWallet(t *testing.T) {
	svc, repo := newTestService()
	if _, err := svc.Debit(context.Background(), "ghost", mustDecimal(t, "5"), nil); !errors.Is(err, store.ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
	if len(repo.PendingOutbox()) != 0 {
		t.Fatal("expected no events enqueued for a failed debit")
	}
}

func TestService_InsufficientFundsLeavesNoTrace(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	if _, err := svc.Credit(ctx, "alice", mustDecimal(t, "10"), nil); err != nil {
		t.Fatalf("Credit returned error: %v", err)
	}

	if _, err := svc.Debit(ctx, "alice", mustDecimal(t, "11"), nil); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds on debit, got %v", err)
	}
	if _, err := svc.Transfer(ctx, "alice", "bob", mustDecimal(t, "11"), nil); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds on transfer, got %v", err)
	}

	wallet, err := svc.GetOrCreate(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %v", err)
	}
	if !wallet.Balance.Equal(mustDecimal(t, "10")) {
		t.Fatalf("expected balance unchanged at 10, got %s", wallet.Balance)
	}

	txns, err := svc.ListTransactions(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("ListTransactions returned error: %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("expected only the credit transaction, got %d", len(txns))
	}
	if len(repo.PendingOutbox()) != 1 {
		t.Fatalf("expected only the credit event enqueued, got %d", len(repo.PendingOutbox()))
	}
}

func TestService_ListTransactionsMissingWallet(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.ListTransactions(context.Background(), "ghost", 10); !errors.Is(err, store.ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestService_ConcurrentMutationsSerialize(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Credit(ctx, "alice", mustDecimal(t, "1000"), nil); err != nil {
		t.Fatalf("Credit returned error: %v", err)
	}

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers * 2)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := svc.Credit(ctx, "alice", mustDecimal(t, "3"), nil); err != nil {
				t.Errorf("concurrent credit failed: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := svc.Debit(ctx, "alice", mustDecimal(t, "2"), nil); err != nil {
				t.Errorf("concurrent debit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	wallet, err := svc.GetOrCreate(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %v", err)
	}
	// 1000 + 20*3 - 20*2
	if !wallet.Balance.Equal(mustDecimal(t, "1020")) {
		t.Fatalf("expected balance 1020 after concurrent mutations, got %s", wallet.Balance)
	}
}

func TestService_ConcurrentGetOrCreateReturnsOneWallet(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	const workers = 16
	ids := make([]string, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			w, err := svc.GetOrCreate(ctx, "alice")
			if err != nil {
				t.Errorf("GetOrCreate failed: %v", err)
				return
			}
			ids[i] = w.ID.String()
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("expected a single wallet id, got %s and %s", ids[0], ids[i])
		}
	}
}

type stubRateLimiter struct {
	count int
	err   error
}

func (s *stubRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if s.err != nil {
		return 0, 0, s.err
	}
	s.count++
	return s.count, 30, nil
}

func TestService_RateLimitExceeded(t *testing.T) {
	svc, repo := newTestService()
	svc.SetRateLimiter(&stubRateLimiter{}, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.Credit(ctx, "alice", mustDecimal(t, "1"), nil); err != nil {
			t.Fatalf("credit %d returned error: %v", i, err)
		}
	}
	if _, err := svc.Credit(ctx, "alice", mustDecimal(t, "1"), nil); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on third mutation, got %v", err)
	}
	if len(repo.PendingOutbox()) != 2 {
		t.Fatalf("expected 2 enqueued events, got %d", len(repo.PendingOutbox()))
	}
}

func TestService_RateLimiterFailureAllowsMutation(t *testing.T) {
	svc, _ := newTestService()
	svc.SetRateLimiter(&stubRateLimiter{err: errors.New("redis down")}, 1)

	for i := 0; i < 3; i++ {
		if _, err := svc.Credit(context.Background(), "alice", mustDecimal(t, "1"), nil); err != nil {
			t.Fatalf("expected mutation to pass when limiter errors, got %v", err)
		}
	}
}

package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finx/finx-backend/internal/domain"
	"github.com/finx/finx-backend/internal/ledger/store"
	"github.com/finx/finx-backend/pkg/rabbitmq"
)

func creditedBody(t *testing.T, eventID, walletID uuid.UUID, owner, amount string) []byte {
	t.Helper()
	body, err := json.Marshal(domain.WalletCreditedEvent{
		Event:     domain.EventWalletCredited,
		EventID:   eventID,
		WalletID:  walletID,
		UserID:    owner,
		Amount:    decimal.RequireFromString(amount),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal returned error: %v", err)
	}
	return body
}

func TestProjector_CreditProducesOneEntry(t *testing.T) {
	repo := store.NewMemoryRepository()
	projector := NewProjector(repo)
	ctx := context.Background()

	walletID := uuid.New()
	body := creditedBody(t, uuid.New(), walletID, "alice", "100.50")

	if verdict := projector.HandleMessage(ctx, body); verdict != rabbitmq.VerdictAck {
		t.Fatalf("expected VerdictAck, got %v", verdict)
	}

	entries := repo.AllEntries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.OwnerID != "alice" {
		t.Fatalf("expected owner alice, got %q", entry.OwnerID)
	}
	if entry.WalletID != walletID.String() {
		t.Fatalf("expected wallet id %s, got %q", walletID, entry.WalletID)
	}
	if entry.Type != domain.TxTypeCredit {
		t.Fatalf("expected type CREDIT, got %q", entry.Type)
	}
	if !entry.Amount.Equal(decimal.RequireFromString("100.50")) {
		t.Fatalf("expected amount 100.50, got %s", entry.Amount)
	}
}

func TestProjector_RedeliveryIsIdempotent(t *testing.T) {
	repo := store.NewMemoryRepository()
	projector := NewProjector(repo)
	ctx := context.Background()

	body := creditedBody(t, uuid.New(), uuid.New(), "alice", "25")

	for i := 0; i < 3; i++ {
		if verdict := projector.HandleMessage(ctx, body); verdict != rabbitmq.VerdictAck {
			t.Fatalf("delivery %d: expected VerdictAck, got %v", i, verdict)
		}
	}
	if entries := repo.AllEntries(); len(entries) != 1 {
		t.Fatalf("expected a single entry after redeliveries, got %d", len(entries))
	}
}

func TestProjector_TransferProducesTwoEntries(t *testing.T) {
	repo := store.NewMemoryRepository()
	projector := NewProjector(repo)
	ctx := context.Background()

	ref := "rent"
	event := domain.NewWalletTransferredEvent("alice", "bob", decimal.RequireFromString("20"), &ref, time.Now().UTC())
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal returned error: %v", err)
	}

	if verdict := projector.HandleMessage(ctx, body); verdict != rabbitmq.VerdictAck {
		t.Fatalf("expected VerdictAck, got %v", verdict)
	}

	entries := repo.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger entries for a transfer, got %d", len(entries))
	}
	byType := map[string]domain.LedgerEntry{}
	for _, e := range entries {
		byType[e.Type] = e
	}
	out, ok := byType[domain.TxTypeTransferOut]
	if !ok || out.OwnerID != "alice" {
		t.Fatalf("expected TRANSFER_OUT entry for alice, got %+v", byType)
	}
	in, ok := byType[domain.TxTypeTransferIn]
	if !ok || in.OwnerID != "bob" {
		t.Fatalf("expected TRANSFER_IN entry for bob, got %+v", byType)
	}
	if out.Reference == nil || *out.Reference != "rent" || in.Reference == nil || *in.Reference != "rent" {
		t.Fatal("expected both entries to carry the transfer reference")
	}
	if !out.Timestamp.Equal(in.Timestamp) {
		t.Fatal("expected both entries to share the event timestamp")
	}

	// Redelivery of the same transfer must not double-book either side.
	if verdict := projector.HandleMessage(ctx, body); verdict != rabbitmq.VerdictAck {
		t.Fatal("expected VerdictAck on redelivery")
	}
	if entries := repo.AllEntries(); len(entries) != 2 {
		t.Fatalf("expected entries unchanged after redelivery, got %d", len(entries))
	}
}

func TestProjector_UnknownEventIsDiscarded(t *testing.T) {
	repo := store.NewMemoryRepository()
	projector := NewProjector(repo)

	body := []byte(`{"Event":"WalletFrozen","EventId":"` + uuid.NewString() + `"}`)
	if verdict := projector.HandleMessage(context.Background(), body); verdict != rabbitmq.VerdictDiscard {
		t.Fatalf("expected VerdictDiscard, got %v", verdict)
	}
	if len(repo.AllEntries()) != 0 {
		t.Fatal("expected no entries for an unknown event")
	}
}

func TestProjector_MalformedEventIsRetried(t *testing.T) {
	repo := store.NewMemoryRepository()
	projector := NewProjector(repo)

	bodies := [][]byte{
		[]byte(`{{`),
		[]byte(`{"Event":"WalletCredited","UserId":"alice","Amount":"5"}`),
	}
	for _, body := range bodies {
		if verdict := projector.HandleMessage(context.Background(), body); verdict != rabbitmq.VerdictRetry {
			t.Fatalf("expected VerdictRetry for %s, got %v", body, verdict)
		}
	}
	if len(repo.AllEntries()) != 0 {
		t.Fatal("expected no entries for malformed events")
	}
}

type failingLedgerRepo struct {
	store.Repository
	err error
}

func (f *failingLedgerRepo) AppendEntries(ctx context.Context, eventID uuid.UUID, entries []domain.LedgerEntry) error {
	return f.err
}

func TestProjector_StoreFailureIsRetried(t *testing.T) {
	repo := &failingLedgerRepo{Repository: store.NewMemoryRepository(), err: context.DeadlineExceeded}
	projector := NewProjector(repo)

	body := creditedBody(t, uuid.New(), uuid.New(), "alice", "5")
	if verdict := projector.HandleMessage(context.Background(), body); verdict != rabbitmq.VerdictRetry {
		t.Fatalf("expected VerdictRetry on store failure, got %v", verdict)
	}
}

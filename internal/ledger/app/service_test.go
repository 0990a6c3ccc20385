package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finx/finx-backend/internal/domain"
	"github.com/finx/finx-backend/internal/ledger/store"
)

func seedEntries(t *testing.T, repo *store.MemoryRepository, owner string, base time.Time, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		entries := []domain.LedgerEntry{{
			ID:        uuid.New(),
			OwnerID:   owner,
			WalletID:  owner,
			Type:      domain.TxTypeCredit,
			Amount:    decimal.RequireFromString("1"),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}}
		if err := repo.AppendEntries(context.Background(), uuid.New(), entries); err != nil {
			t.Fatalf("AppendEntries returned error: %v", err)
		}
	}
}

func TestService_EntriesForOwnerNewestFirst(t *testing.T) {
	repo := store.NewMemoryRepository()
	svc := NewService(repo)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedEntries(t, repo, "alice", base, 3)
	seedEntries(t, repo, "bob", base, 2)

	entries, err := svc.EntriesForOwner(context.Background(), "alice", 0)
	if err != nil {
		t.Fatalf("EntriesForOwner returned error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries for alice, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.After(entries[i-1].Timestamp) {
			t.Fatal("expected entries ordered newest first")
		}
	}
	for _, e := range entries {
		if e.OwnerID != "alice" {
			t.Fatalf("expected only alice's entries, got owner %q", e.OwnerID)
		}
	}
}

func TestService_EntriesForOwnerLimitClamped(t *testing.T) {
	repo := store.NewMemoryRepository()
	svc := NewService(repo)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	seedEntries(t, repo, "alice", base, 5)

	entries, err := svc.EntriesForOwner(context.Background(), "alice", 2)
	if err != nil {
		t.Fatalf("EntriesForOwner returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected limit of 2 applied, got %d entries", len(entries))
	}
}

func TestService_EntriesInRange(t *testing.T) {
	repo := store.NewMemoryRepository()
	svc := NewService(repo)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedEntries(t, repo, "alice", base, 4)

	// Half-open window: [base+1m, base+3m) keeps minutes 1 and 2 only.
	entries, err := svc.EntriesInRange(context.Background(), base.Add(time.Minute), base.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("EntriesInRange returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries in range, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.Before(entries[i-1].Timestamp) {
			t.Fatal("expected range entries ordered oldest first")
		}
	}
}

func TestService_EntriesInRangeRejectsBadBounds(t *testing.T) {
	svc := NewService(store.NewMemoryRepository())
	now := time.Now()

	cases := []struct {
		name string
		from time.Time
		to   time.Time
	}{
		{"zero from", time.Time{}, now},
		{"zero to", now, time.Time{}},
		{"inverted", now, now.Add(-time.Hour)},
		{"equal", now, now},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.EntriesInRange(context.Background(), tc.from, tc.to); !errors.Is(err, ErrInvalidRange) {
				t.Fatalf("expected ErrInvalidRange, got %v", err)
			}
		})
	}
}

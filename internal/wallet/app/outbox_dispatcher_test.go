package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/finx/finx-backend/internal/domain"
	"github.com/finx/finx-backend/internal/wallet/store"
)

type capturePublisher struct {
	mu        sync.Mutex
	failUntil int
	calls     int
	published []publishedMessage
}

type publishedMessage struct {
	exchange   string
	routingKey string
}

func (p *capturePublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failUntil {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, publishedMessage{exchange: exchange, routingKey: routingKey})
	return nil
}

func (p *capturePublisher) Close() {}

func (p *capturePublisher) snapshot() []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedMessage(nil), p.published...)
}

func TestOutboxDispatcher_FlushPublishesPendingEvents(t *testing.T) {
	repo := store.NewMemoryRepository()
	publisher := &capturePublisher{}
	dispatcher := NewOutboxDispatcher(repo, publisher)
	svc := NewService(repo, testExchange, nil)
	ctx := context.Background()

	if _, err := svc.Credit(ctx, "alice", mustDecimal(t, "10"), nil); err != nil {
		t.Fatalf("Credit returned error: %v", err)
	}
	if _, err := svc.Transfer(ctx, "alice", "bob", mustDecimal(t, "4"), nil); err != nil {
		t.Fatalf("Transfer returned error: %v", err)
	}

	if err := dispatcher.flushOnce(ctx); err != nil {
		t.Fatalf("flushOnce returned error: %v", err)
	}

	published := publisher.snapshot()
	if len(published) != 2 {
		t.Fatalf("expected 2 published messages, got %d", len(published))
	}
	if published[0].routingKey != domain.RoutingKeyWalletCredited {
		t.Fatalf("expected first routing key wallet.credited, got %q", published[0].routingKey)
	}
	if published[1].routingKey != domain.RoutingKeyWalletTransferred {
		t.Fatalf("expected second routing key wallet.transferred, got %q", published[1].routingKey)
	}
	if len(repo.PendingOutbox()) != 0 {
		t.Fatalf("expected outbox drained, got %d pending rows", len(repo.PendingOutbox()))
	}
	if len(repo.PublishedOutbox()) != 2 {
		t.Fatalf("expected 2 published rows, got %d", len(repo.PublishedOutbox()))
	}
}

func TestOutboxDispatcher_RetriesAfterPublishFailure(t *testing.T) {
	repo := store.NewMemoryRepository()
	publisher := &capturePublisher{failUntil: 1}
	dispatcher := NewOutboxDispatcher(repo, publisher)
	svc := NewService(repo, testExchange, nil)
	ctx := context.Background()

	if _, err := svc.Credit(ctx, "alice", mustDecimal(t, "10"), nil); err != nil {
		t.Fatalf("Credit returned error: %v", err)
	}

	// First flush hits a dead broker; the row must survive for a later retry.
	if err := dispatcher.flushOnce(ctx); err != nil {
		t.Fatalf("flushOnce returned error: %v", err)
	}
	pending := repo.PendingOutbox()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending row after failed publish, got %d", len(pending))
	}
	if len(repo.PublishedOutbox()) != 0 {
		t.Fatal("expected no published rows after failed publish")
	}

	// Clear the backoff window so the retry is claimable immediately.
	if err := repo.MarkOutboxFailed(ctx, pending[0].ID, 0, "test reset"); err != nil {
		t.Fatalf("MarkOutboxFailed returned error: %v", err)
	}

	if err := dispatcher.flushOnce(ctx); err != nil {
		t.Fatalf("flushOnce returned error: %v", err)
	}
	if len(repo.PendingOutbox()) != 0 {
		t.Fatal("expected outbox drained after retry")
	}
	if got := publisher.snapshot(); len(got) != 1 {
		t.Fatalf("expected exactly 1 successful publish, got %d", len(got))
	}
}

func TestOutboxDispatcher_NudgeTriggersImmediateFlush(t *testing.T) {
	repo := store.NewMemoryRepository()
	publisher := &capturePublisher{}
	dispatcher := NewOutboxDispatcher(repo, publisher)
	// A long poll interval ensures only the nudge can explain a prompt publish.
	dispatcher.SetBatching(0, time.Minute)
	svc := NewService(repo, testExchange, dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()

	if _, err := svc.Credit(ctx, "alice", mustDecimal(t, "10"), nil); err != nil {
		t.Fatalf("Credit returned error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(publisher.snapshot()) == 1 {
			cancel()
			<-done
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected nudged dispatcher to publish within 2s")
}

func TestRetryDelaySeconds_BoundedExponential(t *testing.T) {
	cases := []struct {
		attempt int
		want    int
	}{
		{0, 1},
		{1, 2},
		{3, 8},
		{8, 256},
		{9, 300},
		{100, 300},
	}
	for _, tc := range cases {
		if got := retryDelaySeconds(tc.attempt); got != tc.want {
			t.Fatalf("retryDelaySeconds(%d) = %d, want %d", tc.attempt, got, tc.want)
		}
	}
}

package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/finx/finx-backend/internal/wallet/store"
	"github.com/finx/finx-backend/pkg/rabbitmq"
)

const (
	defaultBatchSize       = 50
	defaultPollInterval    = 1200 * time.Millisecond
	defaultStaleProcessing = 2 * time.Minute
)

// OutboxDispatcher forwards committed domain events from the outbox table to
// the broker. It is the only component that talks to the producer on the
// wallet side, so a broker outage degrades into outbox backlog instead of
// failed mutations; rows are retried with exponential backoff until published.
type OutboxDispatcher struct {
	repo                store.Repository
	producer            rabbitmq.Publisher
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
	kick                chan struct{}
}

func NewOutboxDispatcher(repo store.Repository, producer rabbitmq.Publisher) *OutboxDispatcher {
	return &OutboxDispatcher{
		repo:                repo,
		producer:            producer,
		batchSize:           defaultBatchSize,
		pollInterval:        defaultPollInterval,
		staleProcessingTime: defaultStaleProcessing,
		kick:                make(chan struct{}, 1),
	}
}

// SetBatching overrides the poll cadence; zero values keep the defaults.
func (d *OutboxDispatcher) SetBatching(batchSize int, pollInterval time.Duration) {
	if batchSize > 0 {
		d.batchSize = batchSize
	}
	if pollInterval > 0 {
		d.pollInterval = pollInterval
	}
}

// Nudge asks the dispatcher to flush soon. Called by the wallet engine right
// after a mutation commits so the happy-path publish is immediate.
func (d *OutboxDispatcher) Nudge() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run flushes the outbox until ctx is canceled. The final flush attempt on
// shutdown drains whatever the broker will still accept.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.kick:
		case <-ticker.C:
		}
		if err := d.flushOnce(ctx); err != nil {
			log.Printf("level=warn component=outbox_dispatcher msg=\"flush failed\" err=%v", err)
		}
	}
}

func (d *OutboxDispatcher) flushOnce(ctx context.Context) error {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	messages, err := d.repo.ClaimOutboxMessages(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return err
	}

	for _, message := range messages {
		if err := d.producer.Publish(ctx, message.Exchange, message.RoutingKey, json.RawMessage(message.Payload)); err != nil {
			retryAfter := retryDelaySeconds(message.Attempts)
			if markErr := d.repo.MarkOutboxFailed(ctx, message.ID, retryAfter, err.Error()); markErr != nil {
				log.Printf("level=error component=outbox_dispatcher msg=\"failed to mark outbox row for retry\" outbox_id=%d err=%v", message.ID, markErr)
			}
			continue
		}
		if err := d.repo.MarkOutboxPublished(ctx, message.ID); err != nil {
			// The row stays claimed and will be re-claimed as stale; the
			// consumer side dedups the resulting redelivery.
			log.Printf("level=error component=outbox_dispatcher msg=\"failed to mark outbox row published\" outbox_id=%d err=%v", message.ID, err)
		}
	}
	return nil
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << minInt(attempt, 9)
	if delay > 300 {
		return 300
	}
	return delay
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

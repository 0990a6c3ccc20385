package app

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"github.com/finx/finx-backend/internal/domain"
	"github.com/finx/finx-backend/internal/ledger/store"
	"github.com/finx/finx-backend/pkg/rabbitmq"
)

// Projector consumes wallet domain events and appends the corresponding
// ledger entries. It is idempotent under redelivery: the repository refuses a
// second append for the same event id, and the projector acknowledges the
// duplicate instead of writing twice.
type Projector struct {
	repo store.Repository
}

func NewProjector(repo store.Repository) *Projector {
	return &Projector{repo: repo}
}

// HandleMessage processes one raw event body. Verdicts follow the error
// taxonomy: unknown events are discarded, malformed payloads and transient
// store failures are retried, duplicates are acknowledged.
func (p *Projector) HandleMessage(ctx context.Context, body []byte) rabbitmq.Verdict {
	event, err := domain.ParseWalletEvent(body)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownEvent) {
			log.Printf("level=warn component=ledger_projector msg=\"unknown event; acknowledging\" err=%v", err)
			return rabbitmq.VerdictDiscard
		}
		log.Printf("level=warn component=ledger_projector msg=\"malformed event\" err=%v", err)
		return rabbitmq.VerdictRetry
	}

	entries := entriesFor(event)
	if err := p.repo.AppendEntries(ctx, event.EventID, entries); err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) {
			log.Printf("level=info component=ledger_projector msg=\"duplicate event; acknowledging\" event=%s event_id=%s", event.Name, event.EventID)
			return rabbitmq.VerdictAck
		}
		log.Printf("level=error component=ledger_projector msg=\"ledger append failed\" event=%s event_id=%s err=%v", event.Name, event.EventID, err)
		return rabbitmq.VerdictRetry
	}

	log.Printf("level=info component=ledger_projector msg=\"event projected\" event=%s event_id=%s entries=%d", event.Name, event.EventID, len(entries))
	return rabbitmq.VerdictAck
}

// entriesFor maps a validated event to its ledger rows. A transfer yields two
// self-contained rows sharing the event's reference and timestamp, so the
// ledger never needs both sides delivered in order.
func entriesFor(event *domain.WalletEvent) []domain.LedgerEntry {
	switch {
	case event.Credited != nil:
		e := event.Credited
		return []domain.LedgerEntry{{
			ID:        uuid.New(),
			OwnerID:   e.UserID,
			WalletID:  e.WalletID.String(),
			Type:      domain.TxTypeCredit,
			Amount:    e.Amount,
			Reference: e.Reference,
			Timestamp: e.CreatedAt,
		}}
	case event.Debited != nil:
		e := event.Debited
		return []domain.LedgerEntry{{
			ID:        uuid.New(),
			OwnerID:   e.UserID,
			WalletID:  e.WalletID.String(),
			Type:      domain.TxTypeDebit,
			Amount:    e.Amount,
			Reference: e.Reference,
			Timestamp: e.CreatedAt,
		}}
	case event.Transferred != nil:
		e := event.Transferred
		// The transfer event does not carry wallet ids; entries reference the
		// owner on both columns, as each entry describes that owner's side.
		return []domain.LedgerEntry{
			{
				ID:        uuid.New(),
				OwnerID:   e.FromUserID,
				WalletID:  e.FromUserID,
				Type:      domain.TxTypeTransferOut,
				Amount:    e.Amount,
				Reference: e.Reference,
				Timestamp: e.CreatedAt,
			},
			{
				ID:        uuid.New(),
				OwnerID:   e.ToUserID,
				WalletID:  e.ToUserID,
				Type:      domain.TxTypeTransferIn,
				Amount:    e.Amount,
				Reference: e.Reference,
				Timestamp: e.CreatedAt,
			},
		}
	default:
		return nil
	}
}

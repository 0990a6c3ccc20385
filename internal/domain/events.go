/**
 * @description
 * This file defines the domain events exchanged between the wallet service and
 * the ledger service over the broker, plus the parsing helpers the consumer
 * side uses to turn a raw message body into a validated, tagged event.
 *
 * @notes
 * - Field names (Event, WalletId, UserId, Amount, Reference, CreatedAt,
 *   FromUserId, ToUserId) are part of the wire contract and must not change.
 * - EventId is the idempotency key consumers use to discard redeliveries. For
 *   credits and debits it is the wallet transaction record id; for transfers
 *   it is a UUID minted per transfer, since one event covers both wallets.
 */

package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event names as they appear in the Event envelope field.
const (
	EventWalletCredited    = "WalletCredited"
	EventWalletDebited     = "WalletDebited"
	EventWalletTransferred = "WalletTransferred"
)

// Routing keys on the durable topic exchange.
const (
	RoutingKeyWalletCredited    = "wallet.credited"
	RoutingKeyWalletDebited     = "wallet.debited"
	RoutingKeyWalletTransferred = "wallet.transferred"
)

var (
	// ErrUnknownEvent marks an event name the consumer does not recognize.
	// Unknown events are logged and acknowledged, never requeued.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrMalformedEvent marks a payload missing a required field. Malformed
	// events are retried a bounded number of times, then dead-lettered.
	ErrMalformedEvent = errors.New("malformed event")
)

// WalletCreditedEvent is published after a committed credit.
type WalletCreditedEvent struct {
	Event     string          `json:"Event"`
	EventID   uuid.UUID       `json:"EventId"`
	WalletID  uuid.UUID       `json:"WalletId"`
	UserID    string          `json:"UserId"`
	Amount    decimal.Decimal `json:"Amount"`
	Reference *string         `json:"Reference,omitempty"`
	CreatedAt time.Time       `json:"CreatedAt"`
}

// WalletDebitedEvent is published after a committed debit.
type WalletDebitedEvent struct {
	Event     string          `json:"Event"`
	EventID   uuid.UUID       `json:"EventId"`
	WalletID  uuid.UUID       `json:"WalletId"`
	UserID    string          `json:"UserId"`
	Amount    decimal.Decimal `json:"Amount"`
	Reference *string         `json:"Reference,omitempty"`
	CreatedAt time.Time       `json:"CreatedAt"`
}

// WalletTransferredEvent is published once per committed transfer; it covers
// both the debit on the sender and the credit on the receiver.
type WalletTransferredEvent struct {
	Event      string          `json:"Event"`
	EventID    uuid.UUID       `json:"EventId"`
	FromUserID string          `json:"FromUserId"`
	ToUserID   string          `json:"ToUserId"`
	Amount     decimal.Decimal `json:"Amount"`
	Reference  *string         `json:"Reference,omitempty"`
	CreatedAt  time.Time       `json:"CreatedAt"`
}

// NewWalletCreditedEvent builds the event for a committed credit.
func NewWalletCreditedEvent(w *Wallet, txn *WalletTransaction) WalletCreditedEvent {
	return WalletCreditedEvent{
		Event:     EventWalletCredited,
		EventID:   txn.ID,
		WalletID:  w.ID,
		UserID:    w.OwnerID,
		Amount:    txn.Amount,
		Reference: txn.Reference,
		CreatedAt: txn.CreatedAt,
	}
}

// NewWalletDebitedEvent builds the event for a committed debit.
func NewWalletDebitedEvent(w *Wallet, txn *WalletTransaction) WalletDebitedEvent {
	return WalletDebitedEvent{
		Event:     EventWalletDebited,
		EventID:   txn.ID,
		WalletID:  w.ID,
		UserID:    w.OwnerID,
		Amount:    txn.Amount,
		Reference: txn.Reference,
		CreatedAt: txn.CreatedAt,
	}
}

// NewWalletTransferredEvent builds the single event for a committed transfer.
// The event id is minted here rather than reusing either transaction record
// id, so replays dedup on one stable key for the whole transfer.
func NewWalletTransferredEvent(fromOwner, toOwner string, amount decimal.Decimal, reference *string, at time.Time) WalletTransferredEvent {
	return WalletTransferredEvent{
		Event:      EventWalletTransferred,
		EventID:    uuid.New(),
		FromUserID: fromOwner,
		ToUserID:   toOwner,
		Amount:     amount,
		Reference:  reference,
		CreatedAt:  at,
	}
}

// WalletEvent is the tagged variant the consumer dispatches on. Exactly one
// of the payload pointers is set, matching Name.
type WalletEvent struct {
	Name        string
	EventID     uuid.UUID
	Credited    *WalletCreditedEvent
	Debited     *WalletDebitedEvent
	Transferred *WalletTransferredEvent
}

type eventEnvelope struct {
	Event string `json:"Event"`
}

// ParseWalletEvent decodes a raw message body into a validated WalletEvent.
// It fails closed: a recognizable name with a missing required field returns
// ErrMalformedEvent rather than handing partial data to business logic.
func ParseWalletEvent(body []byte) (*WalletEvent, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if envelope.Event == "" {
		return nil, fmt.Errorf("%w: missing Event field", ErrMalformedEvent)
	}

	switch envelope.Event {
	case EventWalletCredited:
		var payload WalletCreditedEvent
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if err := validateBalanceChange(payload.EventID, payload.WalletID, payload.UserID, payload.Amount); err != nil {
			return nil, err
		}
		return &WalletEvent{Name: envelope.Event, EventID: payload.EventID, Credited: &payload}, nil

	case EventWalletDebited:
		var payload WalletDebitedEvent
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if err := validateBalanceChange(payload.EventID, payload.WalletID, payload.UserID, payload.Amount); err != nil {
			return nil, err
		}
		return &WalletEvent{Name: envelope.Event, EventID: payload.EventID, Debited: &payload}, nil

	case EventWalletTransferred:
		var payload WalletTransferredEvent
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if payload.EventID == uuid.Nil {
			return nil, fmt.Errorf("%w: missing EventId", ErrMalformedEvent)
		}
		if payload.FromUserID == "" || payload.ToUserID == "" {
			return nil, fmt.Errorf("%w: missing FromUserId or ToUserId", ErrMalformedEvent)
		}
		if !payload.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: non-positive Amount", ErrMalformedEvent)
		}
		return &WalletEvent{Name: envelope.Event, EventID: payload.EventID, Transferred: &payload}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, envelope.Event)
	}
}

func validateBalanceChange(eventID, walletID uuid.UUID, userID string, amount decimal.Decimal) error {
	if eventID == uuid.Nil {
		return fmt.Errorf("%w: missing EventId", ErrMalformedEvent)
	}
	if walletID == uuid.Nil {
		return fmt.Errorf("%w: missing WalletId", ErrMalformedEvent)
	}
	if userID == "" {
		return fmt.Errorf("%w: missing UserId", ErrMalformedEvent)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: non-positive Amount", ErrMalformedEvent)
	}
	return nil
}

/**
 * @description
 * This file defines the wallet-side domain models: the Wallet itself and the
 * append-only WalletTransaction audit records the wallet service writes
 * alongside every balance change.
 *
 * @notes
 * - Balances are `decimal.Decimal` (fixed-point) rather than float64 to avoid
 *   rounding errors with monetary values. The database column is NUMERIC.
 * - Owner ids are opaque strings issued by the external identity service; the
 *   wallet service never interprets them beyond equality and ordering.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet transaction types. A transfer writes one TRANSFER_OUT row on the
// sender's wallet and one TRANSFER_IN row on the receiver's wallet.
const (
	TxTypeCredit      = "CREDIT"
	TxTypeDebit       = "DEBIT"
	TxTypeTransferIn  = "TRANSFER_IN"
	TxTypeTransferOut = "TRANSFER_OUT"
)

// Wallet is the current-balance record for one owner. Exactly one wallet
// exists per owner; it is created lazily on first access and never deleted.
type Wallet struct {
	ID        uuid.UUID       `json:"wallet_id"`
	OwnerID   string          `json:"owner_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WalletTransaction is one local effect of a wallet mutation. Rows are
// append-only and committed in the same database transaction as the balance
// update they describe.
type WalletTransaction struct {
	ID             uuid.UUID       `json:"id"`
	WalletID       uuid.UUID       `json:"wallet_id"`
	Type           string          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	RelatedOwnerID *string         `json:"related_owner_id,omitempty"`
	Reference      *string         `json:"reference,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

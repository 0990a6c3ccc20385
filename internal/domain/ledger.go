/**
 * @description
 * This file defines the LedgerEntry model owned by the ledger service. Entries
 * are derived entirely from wallet domain events received over the broker and
 * are never mutated after insertion.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerEntry is one append-only row in the external audit trail. Each entry
// is self-contained: reconstructing a wallet's history must not depend on the
// order entries arrived in.
type LedgerEntry struct {
	ID        uuid.UUID       `json:"id"`
	OwnerID   string          `json:"owner_id"`
	WalletID  string          `json:"wallet_id"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Reference *string         `json:"reference,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

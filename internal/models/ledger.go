package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account owner kinds. An account's owner never changes.
const (
	OwnerPlatform  = "platform"
	OwnerStation   = "station"
	OwnerArtist    = "artist"
	OwnerPublisher = "publisher"
)

// Ledger transaction types. The sign of a row is carried by its
// direction column; the type describes the business event.
const (
	TxDeposit          = "deposit"
	TxPlayCharge       = "play_charge"
	TxRefund           = "refund"
	TxAdjustment       = "adjustment"
	TxWithdrawalPayout = "withdrawal_payout"
)

const (
	DirectionCredit = "CREDIT"
	DirectionDebit  = "DEBIT"
)

// PlatformPoolID identifies the singleton central pool account.
const PlatformPoolID = "ZAMIO-CENTRAL-POOL"

// Account is a settlement participant's balance record. Balance changes
// only through a paired Transaction row, never directly.
type Account struct {
	AccountID            string          `json:"account_id" db:"account_id"`
	OwnerType            string          `json:"owner_type" db:"owner_type"`
	OwnerRef             string          `json:"owner_ref" db:"owner_ref"`
	Balance              decimal.Decimal `json:"balance" db:"balance"`
	Currency             string          `json:"currency" db:"currency"`
	TotalReceived        decimal.Decimal `json:"total_received" db:"total_received"`
	TotalPaidOut         decimal.Decimal `json:"total_paid_out" db:"total_paid_out"`
	TotalSpent           decimal.Decimal `json:"total_spent" db:"total_spent"`
	TotalPlays           int             `json:"total_plays" db:"total_plays"`
	AllowNegativeBalance bool            `json:"allow_negative_balance" db:"allow_negative_balance"`
	CreditLimit          decimal.Decimal `json:"credit_limit" db:"credit_limit"`
	Version              int             `json:"version" db:"version"` // for optimistic locking
	IsActive             bool            `json:"is_active" db:"is_active"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// Transaction is an immutable, append-only ledger row. Amount is always a
// positive magnitude; Direction says which way it moved the balance.
type Transaction struct {
	ID            int             `json:"id" db:"id"`
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	AccountID     string          `json:"account_id" db:"account_id"`
	Type          string          `json:"transaction_type" db:"transaction_type"`
	Direction     string          `json:"direction" db:"direction"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`
	Description   string          `json:"description" db:"description"`
	PlayLogID     string          `json:"play_log_id,omitempty" db:"play_log_id"`
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
}

// Signed returns the amount with the direction applied.
func (t *Transaction) Signed() decimal.Decimal {
	if t.Direction == DirectionDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

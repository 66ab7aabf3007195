package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Deposit request statuses. Terminal: completed, rejected.
const (
	DepositPending   = "pending"
	DepositRejected  = "rejected"
	DepositCompleted = "completed"
)

// Payment methods routed through a rail. Card and cash deposits are
// recorded by their literal method strings and never dispatched.
const (
	PayMTNMoMo      = "mtn_momo"
	PayBankTransfer = "bank_transfer"
)

// DepositRequest is a station funding request awaiting admin approval.
type DepositRequest struct {
	ID              int             `json:"id" db:"id"`
	DepositID       string          `json:"deposit_id" db:"deposit_id"`
	StationID       string          `json:"station" db:"station_id"`
	StationName     string          `json:"station_name" db:"station_name"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	Currency        string          `json:"currency" db:"currency"`
	PaymentMethod   string          `json:"payment_method" db:"payment_method"`
	Reference       string          `json:"reference" db:"reference"`
	Notes           string          `json:"notes" db:"notes"`
	Status          string          `json:"status" db:"status"`
	RequestedAt     time.Time       `json:"requested_at" db:"requested_at"`
	ProcessedAt     *time.Time      `json:"processed_at" db:"processed_at"`
	ProcessedBy     *string         `json:"processed_by" db:"processed_by"`
	RejectionReason string          `json:"rejection_reason" db:"rejection_reason"`
}

// Terminal reports whether no further transitions are permitted.
func (d *DepositRequest) Terminal() bool {
	return d.Status == DepositCompleted || d.Status == DepositRejected
}

// Withdrawal request statuses. Terminal: processed, rejected, cancelled.
// approved means the ledger debit is committed but the payment rail leg
// has not completed; re-approving retries the rail only.
const (
	WithdrawalPending   = "pending"
	WithdrawalApproved  = "approved"
	WithdrawalRejected  = "rejected"
	WithdrawalProcessed = "processed"
	WithdrawalCancelled = "cancelled"
)

const (
	RequesterArtist    = "artist"
	RequesterPublisher = "publisher"
	RequesterAdmin     = "admin"
)

// WithdrawalRequest is a payout request against accrued royalty earnings.
type WithdrawalRequest struct {
	ID                        int             `json:"id" db:"id"`
	WithdrawalID              string          `json:"withdrawal_id" db:"withdrawal_id"`
	Requester                 string          `json:"requester" db:"requester"`
	RequesterType             string          `json:"requester_type" db:"requester_type"`
	Amount                    decimal.Decimal `json:"amount" db:"amount"`
	Currency                  string          `json:"currency" db:"currency"`
	ArtistID                  *string         `json:"artist" db:"artist_id"`
	ArtistName                *string         `json:"artist_name" db:"artist_name"`
	PublisherID               *string         `json:"publisher" db:"publisher_id"`
	PublisherName             *string         `json:"publisher_name" db:"publisher_name"`
	Status                    string          `json:"status" db:"status"`
	PublishingStatusValidated bool            `json:"publishing_status_validated" db:"publishing_status_validated"`
	ValidationNotes           string          `json:"validation_notes" db:"validation_notes"`
	PaymentMethod             string          `json:"payment_method" db:"payment_method"`
	PaymentDetails            []byte          `json:"-" db:"payment_details"`
	ProcessedBy               *string         `json:"processed_by" db:"processed_by"`
	ProcessedAt               *time.Time      `json:"processed_at" db:"processed_at"`
	RejectionReason           string          `json:"rejection_reason" db:"rejection_reason"`
	AdminNotes                string          `json:"admin_notes" db:"admin_notes"`
	RequestedAt               time.Time       `json:"requested_at" db:"requested_at"`
	UpdatedAt                 time.Time       `json:"updated_at" db:"updated_at"`
}

func (w *WithdrawalRequest) Terminal() bool {
	switch w.Status {
	case WithdrawalProcessed, WithdrawalRejected, WithdrawalCancelled:
		return true
	}
	return false
}

// AuthorityCheck is the publishing-rights pre-check result embedded in
// withdrawal responses.
type AuthorityCheck struct {
	IsValid bool   `json:"is_valid"`
	Message string `json:"message"`
}

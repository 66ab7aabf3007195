package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sub-distribution statuses. calculated and pending are aliases in the
// wire contract; rows are stored as calculated. Terminal: paid, failed.
const (
	SubCalculated = "calculated"
	SubPending    = "pending"
	SubApproved   = "approved"
	SubPaid       = "paid"
	SubFailed     = "failed"
)

// SubDistribution is the publisher-fee / artist-net split of one royalty
// distribution. The split is computed once at calculation time and is
// immutable afterwards; correcting a fee percentage requires a new row.
type SubDistribution struct {
	ID                   int             `json:"id" db:"id"`
	SubDistributionID    string          `json:"sub_distribution_id" db:"sub_distribution_id"`
	ParentDistributionID string          `json:"parent_distribution_id" db:"parent_distribution_id"`
	PublisherID          string          `json:"publisher_id" db:"publisher_id"`
	ArtistID             string          `json:"artist_id" db:"artist_id"`
	ArtistName           string          `json:"artist_name" db:"artist_name"`
	TotalAmount          decimal.Decimal `json:"total_amount" db:"total_amount"`
	PublisherFeePercent  decimal.Decimal `json:"publisher_fee_percentage" db:"publisher_fee_percentage"`
	PublisherFeeAmount   decimal.Decimal `json:"publisher_fee_amount" db:"publisher_fee_amount"`
	ArtistNetAmount      decimal.Decimal `json:"artist_net_amount" db:"artist_net_amount"`
	Currency             string          `json:"currency" db:"currency"`
	Status               string          `json:"status" db:"status"`
	CalculatedAt         time.Time       `json:"calculated_at" db:"calculated_at"`
	ApprovedAt           *time.Time      `json:"approved_at" db:"approved_at"`
	PaidToArtistAt       *time.Time      `json:"paid_to_artist_at" db:"paid_to_artist_at"`
	PaymentReference     string          `json:"payment_reference" db:"payment_reference"`
	PaymentMethod        string          `json:"payment_method" db:"payment_method"`
	FailureReason        string          `json:"failure_reason,omitempty" db:"failure_reason"`
}

func (s *SubDistribution) Terminal() bool {
	return s.Status == SubPaid || s.Status == SubFailed
}

// SplitFee computes the publisher fee for a total at the given
// percentage, rounded to currency minor units. The artist net is always
// total minus fee so the two sides sum exactly.
func SplitFee(total, pct decimal.Decimal) (fee, net decimal.Decimal) {
	fee = total.Mul(pct).Div(decimal.NewFromInt(100)).Round(2)
	net = total.Sub(fee)
	return fee, net
}

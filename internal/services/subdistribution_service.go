package services

import (
	"database/sql"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zamio/backend/internal/middleware"
	"github.com/zamio/backend/internal/models"
)

// SubDistributionService manages the publisher-fee split rows carved
// out of royalty distributions and their calculated → approved → paid
// lifecycle. The split amounts are computed once at creation and never
// recalculated.
type SubDistributionService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewSubDistributionService(db *sql.DB) *SubDistributionService {
	return &SubDistributionService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

func newSubDistributionID() string {
	return "SUB-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:10])
}

type createSubDistributionRequest struct {
	ParentDistributionID string          `json:"parent_distribution_id" validate:"required"`
	Artist               string          `json:"artist" validate:"required"`
	TotalAmount          decimal.Decimal `json:"total_amount" validate:"required"`
	PublisherFeePercent  decimal.Decimal `json:"publisher_fee_percentage" validate:"required"`
	Currency             string          `json:"currency"`
}

// CreateSubDistribution calculates and records a fee split
// @Summary Create a sub-distribution
// @Description Splits a distribution amount into publisher fee and artist net at the given percentage
// @Tags sub-distributions
// @Accept json
// @Produce json
// @Param request body services.createSubDistributionRequest true "Split parameters"
// @Success 201 {object} services.Envelope
// @Failure 400 {object} services.ErrorResponse
// @Router /api/publishers/sub-distributions/ [post]
func (s *SubDistributionService) CreateSubDistribution(w http.ResponseWriter, r *http.Request) {
	publisherID := middleware.UserID(r)

	var req createSubDistributionRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.TotalAmount.Sign() <= 0 {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
			NewValidationError("total_amount", "total_amount must be greater than zero"))
		return
	}
	if req.PublisherFeePercent.Sign() < 0 || req.PublisherFeePercent.GreaterThan(decimal.NewFromInt(100)) {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
			NewValidationError("publisher_fee_percentage", "must be between 0 and 100"))
		return
	}
	if req.Currency == "" {
		req.Currency = "GHS"
	}

	fee, net := models.SplitFee(req.TotalAmount, req.PublisherFeePercent)
	sub := &models.SubDistribution{
		SubDistributionID:    newSubDistributionID(),
		ParentDistributionID: req.ParentDistributionID,
		PublisherID:          publisherID,
		ArtistID:             req.Artist,
		TotalAmount:          req.TotalAmount,
		PublisherFeePercent:  req.PublisherFeePercent,
		PublisherFeeAmount:   fee,
		ArtistNetAmount:      net,
		Currency:             req.Currency,
		Status:               models.SubCalculated,
		CalculatedAt:         time.Now(),
	}

	_, err := s.db.Exec(`
		INSERT INTO sub_distributions (sub_distribution_id, parent_distribution_id, publisher_id, artist_id,
		                               total_amount, publisher_fee_percentage, publisher_fee_amount, artist_net_amount,
		                               currency, status, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sub.SubDistributionID, sub.ParentDistributionID, sub.PublisherID, sub.ArtistID,
		sub.TotalAmount, sub.PublisherFeePercent, sub.PublisherFeeAmount, sub.ArtistNetAmount,
		sub.Currency, sub.Status, sub.CalculatedAt)
	if err != nil {
		log.Printf("[SUBDIST] create failed for publisher %s: %v", publisherID, err)
		SendDomainError(w, err)
		return
	}

	log.Printf("[SUBDIST] %s created: total %s, fee %s (%s%%), net %s", sub.SubDistributionID,
		sub.TotalAmount, sub.PublisherFeeAmount, sub.PublisherFeePercent, sub.ArtistNetAmount)
	SendEnvelope(w, http.StatusCreated, "Sub-distribution calculated", sub)
}

// ListSubDistributions returns the publisher dashboard payload
// @Summary List sub-distributions
// @Description Summary totals, per-status and per-artist breakdowns, and the 50 most recent rows
// @Tags sub-distributions
// @Produce json
// @Param status query string false "Filter by status"
// @Param artist query string false "Filter by artist"
// @Param from query string false "Calculated-at lower bound (RFC3339)"
// @Param to query string false "Calculated-at upper bound (RFC3339)"
// @Success 200 {object} services.Envelope
// @Router /api/publishers/sub-distributions/ [get]
func (s *SubDistributionService) ListSubDistributions(w http.ResponseWriter, r *http.Request) {
	where := []string{}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if middleware.UserType(r) == models.RequesterPublisher {
		where = append(where, "publisher_id = "+arg(middleware.UserID(r)))
	}
	if status := r.URL.Query().Get("status"); status != "" {
		// pending is the wire alias for calculated rows
		if status == models.SubPending {
			status = models.SubCalculated
		}
		where = append(where, "status = "+arg(status))
	}
	if artist := r.URL.Query().Get("artist"); artist != "" {
		where = append(where, "artist_id = "+arg(artist))
	}
	if from := r.URL.Query().Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			where = append(where, "calculated_at >= "+arg(t))
		}
	}
	if to := r.URL.Query().Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			where = append(where, "calculated_at <= "+arg(t))
		}
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.db.Query(selectSubDistribution+clause+` ORDER BY calculated_at DESC LIMIT 50`, args...)
	if err != nil {
		SendDomainError(w, err)
		return
	}
	defer rows.Close()

	recent := []models.SubDistribution{}
	for rows.Next() {
		sub, err := scanSubDistribution(rows)
		if err != nil {
			SendDomainError(w, err)
			return
		}
		recent = append(recent, *sub)
	}
	if err := rows.Err(); err != nil {
		SendDomainError(w, err)
		return
	}

	summaryRows, err := s.db.Query(`
		SELECT status, COUNT(*), COALESCE(SUM(total_amount), 0),
		       COALESCE(SUM(publisher_fee_amount), 0), COALESCE(SUM(artist_net_amount), 0)
		FROM sub_distributions`+clause+` GROUP BY status`, args...)
	if err != nil {
		SendDomainError(w, err)
		return
	}
	defer summaryRows.Close()

	type statusBucket struct {
		Count     int             `json:"count"`
		Total     decimal.Decimal `json:"total_amount"`
		Fees      decimal.Decimal `json:"publisher_fees"`
		ArtistNet decimal.Decimal `json:"artist_net"`
	}
	statusBreakdown := map[string]statusBucket{}
	totalCount := 0
	totalAmount, totalFees, totalNet := decimal.Zero, decimal.Zero, decimal.Zero
	for summaryRows.Next() {
		var status string
		var b statusBucket
		if err := summaryRows.Scan(&status, &b.Count, &b.Total, &b.Fees, &b.ArtistNet); err != nil {
			SendDomainError(w, err)
			return
		}
		statusBreakdown[status] = b
		totalCount += b.Count
		totalAmount = totalAmount.Add(b.Total)
		totalFees = totalFees.Add(b.Fees)
		totalNet = totalNet.Add(b.ArtistNet)
	}
	if err := summaryRows.Err(); err != nil {
		SendDomainError(w, err)
		return
	}

	// qualify the filter columns for the joined query
	qualified := clause
	for _, col := range []string{"publisher_id", "status", "artist_id", "calculated_at"} {
		qualified = strings.ReplaceAll(qualified, col+" ", "s."+col+" ")
	}
	artistRows, err := s.db.Query(`
		SELECT s.artist_id, COALESCE(a.name, s.artist_id), COUNT(*),
		       COALESCE(SUM(s.total_amount), 0), COALESCE(SUM(s.artist_net_amount), 0)
		FROM sub_distributions s
		LEFT JOIN artists a ON a.artist_id = s.artist_id`+qualified+`
		GROUP BY s.artist_id, a.name
		ORDER BY SUM(s.total_amount) DESC`, args...)
	if err != nil {
		SendDomainError(w, err)
		return
	}
	defer artistRows.Close()

	type artistBucket struct {
		ArtistID   string          `json:"artist_id"`
		ArtistName string          `json:"artist_name"`
		Count      int             `json:"count"`
		Total      decimal.Decimal `json:"total_amount"`
		ArtistNet  decimal.Decimal `json:"artist_net"`
	}
	artistBreakdown := []artistBucket{}
	artistNames := map[string]string{}
	for artistRows.Next() {
		var b artistBucket
		if err := artistRows.Scan(&b.ArtistID, &b.ArtistName, &b.Count, &b.Total, &b.ArtistNet); err != nil {
			SendDomainError(w, err)
			return
		}
		artistBreakdown = append(artistBreakdown, b)
		artistNames[b.ArtistID] = b.ArtistName
	}
	if err := artistRows.Err(); err != nil {
		SendDomainError(w, err)
		return
	}
	for i := range recent {
		recent[i].ArtistName = artistNames[recent[i].ArtistID]
	}

	SendEnvelope(w, http.StatusOK, "Sub-distributions retrieved", map[string]any{
		"summary": map[string]any{
			"count":          totalCount,
			"total_amount":   totalAmount,
			"publisher_fees": totalFees,
			"artist_net":     totalNet,
		},
		"status_breakdown": statusBreakdown,
		"artist_breakdown": artistBreakdown,
		"recent":           recent,
	})
}

// ApproveSubDistribution moves a calculated split to approved
// @Summary Approve a sub-distribution
// @Tags sub-distributions
// @Produce json
// @Param subID path string true "Sub-distribution ID"
// @Success 200 {object} services.Envelope
// @Failure 409 {object} services.ErrorResponse
// @Router /api/publishers/sub-distributions/{subID}/approve/ [post]
func (s *SubDistributionService) ApproveSubDistribution(w http.ResponseWriter, r *http.Request) {
	subID := chi.URLParam(r, "subID")
	userID := middleware.UserID(r)

	tx, err := s.db.Begin()
	if err != nil {
		SendDomainError(w, err)
		return
	}
	defer tx.Rollback()

	sub, err := lockSubDistribution(tx, subID)
	if err != nil {
		SendDomainError(w, err)
		return
	}
	if sub.Status == models.SubApproved {
		SendEnvelope(w, http.StatusOK, "Sub-distribution already approved", sub)
		return
	}
	if sub.Status != models.SubCalculated && sub.Status != models.SubPending {
		SendDomainError(w, ErrAlreadyProcessed)
		return
	}

	now := time.Now()
	if _, err := tx.Exec(`UPDATE sub_distributions SET status = $1, approved_at = $2 WHERE sub_distribution_id = $3`,
		models.SubApproved, now, subID); err != nil {
		SendDomainError(w, err)
		return
	}
	if err := recordAudit(tx, userID, "approve_sub_distribution", "sub_distribution", subID, nil); err != nil {
		SendDomainError(w, err)
		return
	}

	if err := tx.Commit(); err != nil {
		SendDomainError(w, err)
		return
	}

	sub.Status = models.SubApproved
	sub.ApprovedAt = &now
	log.Printf("[SUBDIST] %s approved by %s", subID, userID)
	SendEnvelope(w, http.StatusOK, "Sub-distribution approved", sub)
}

type markPaidRequest struct {
	PaymentReference string `json:"payment_reference" validate:"required"`
	PaymentMethod    string `json:"payment_method" validate:"required"`
}

// MarkSubDistributionPaid records the artist payout for an approved split
// @Summary Mark a sub-distribution paid
// @Description Requires an approved row and a payment reference. A calculated row must be approved first.
// @Tags sub-distributions
// @Accept json
// @Produce json
// @Param subID path string true "Sub-distribution ID"
// @Param request body services.markPaidRequest true "Payment reference and method"
// @Success 200 {object} services.Envelope
// @Failure 409 {object} services.ErrorResponse
// @Router /api/publishers/sub-distributions/{subID}/mark-paid/ [post]
func (s *SubDistributionService) MarkSubDistributionPaid(w http.ResponseWriter, r *http.Request) {
	subID := chi.URLParam(r, "subID")
	userID := middleware.UserID(r)

	var req markPaidRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	req.PaymentReference = strings.TrimSpace(req.PaymentReference)
	if req.PaymentReference == "" {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
			NewValidationError("payment_reference", "payment reference is required"))
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		SendDomainError(w, err)
		return
	}
	defer tx.Rollback()

	sub, err := lockSubDistribution(tx, subID)
	if err != nil {
		SendDomainError(w, err)
		return
	}
	if sub.Status == models.SubPaid {
		SendEnvelope(w, http.StatusOK, "Sub-distribution already paid", sub)
		return
	}
	if sub.Status != models.SubApproved {
		SendDomainError(w, ErrAlreadyProcessed)
		return
	}

	now := time.Now()
	_, err = tx.Exec(`
		UPDATE sub_distributions SET status = $1, paid_to_artist_at = $2, payment_reference = $3, payment_method = $4
		WHERE sub_distribution_id = $5`,
		models.SubPaid, now, req.PaymentReference, req.PaymentMethod, subID)
	if err != nil {
		SendDomainError(w, err)
		return
	}
	if err := recordAudit(tx, userID, "mark_sub_distribution_paid", "sub_distribution", subID, req); err != nil {
		SendDomainError(w, err)
		return
	}

	if err := tx.Commit(); err != nil {
		SendDomainError(w, err)
		return
	}

	sub.Status = models.SubPaid
	sub.PaidToArtistAt = &now
	sub.PaymentReference = req.PaymentReference
	sub.PaymentMethod = req.PaymentMethod
	log.Printf("[SUBDIST] %s marked paid by %s, ref %s", subID, userID, req.PaymentReference)
	SendEnvelope(w, http.StatusOK, "Sub-distribution marked paid", sub)
}

type markFailedRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// MarkSubDistributionFailed records a payout failure
// @Summary Mark a sub-distribution failed
// @Tags sub-distributions
// @Accept json
// @Produce json
// @Param subID path string true "Sub-distribution ID"
// @Param request body services.markFailedRequest true "Failure reason"
// @Success 200 {object} services.Envelope
// @Failure 409 {object} services.ErrorResponse
// @Router /api/publishers/sub-distributions/{subID}/mark-failed/ [post]
func (s *SubDistributionService) MarkSubDistributionFailed(w http.ResponseWriter, r *http.Request) {
	subID := chi.URLParam(r, "subID")
	userID := middleware.UserID(r)

	var req markFailedRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
			NewValidationError("reason", "failure reason is required"))
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		SendDomainError(w, err)
		return
	}
	defer tx.Rollback()

	sub, err := lockSubDistribution(tx, subID)
	if err != nil {
		SendDomainError(w, err)
		return
	}
	if sub.Status == models.SubFailed {
		SendEnvelope(w, http.StatusOK, "Sub-distribution already failed", sub)
		return
	}
	if sub.Terminal() {
		SendDomainError(w, ErrAlreadyProcessed)
		return
	}

	if _, err := tx.Exec(`UPDATE sub_distributions SET status = $1, failure_reason = $2 WHERE sub_distribution_id = $3`,
		models.SubFailed, req.Reason, subID); err != nil {
		SendDomainError(w, err)
		return
	}
	if err := recordAudit(tx, userID, "mark_sub_distribution_failed", "sub_distribution", subID, req); err != nil {
		SendDomainError(w, err)
		return
	}

	if err := tx.Commit(); err != nil {
		SendDomainError(w, err)
		return
	}

	sub.Status = models.SubFailed
	sub.FailureReason = req.Reason
	log.Printf("[SUBDIST] %s marked failed by %s: %s", subID, userID, req.Reason)
	SendEnvelope(w, http.StatusOK, "Sub-distribution marked failed", sub)
}

const selectSubDistribution = `
	SELECT id, sub_distribution_id, parent_distribution_id, publisher_id, artist_id,
	       total_amount, publisher_fee_percentage, publisher_fee_amount, artist_net_amount,
	       currency, status, calculated_at, approved_at, paid_to_artist_at,
	       COALESCE(payment_reference, ''), COALESCE(payment_method, ''), COALESCE(failure_reason, '')
	FROM sub_distributions`

func scanSubDistribution(row rowScanner) (*models.SubDistribution, error) {
	var sub models.SubDistribution
	err := row.Scan(&sub.ID, &sub.SubDistributionID, &sub.ParentDistributionID, &sub.PublisherID, &sub.ArtistID,
		&sub.TotalAmount, &sub.PublisherFeePercent, &sub.PublisherFeeAmount, &sub.ArtistNetAmount,
		&sub.Currency, &sub.Status, &sub.CalculatedAt, &sub.ApprovedAt, &sub.PaidToArtistAt,
		&sub.PaymentReference, &sub.PaymentMethod, &sub.FailureReason)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func lockSubDistribution(tx *sql.Tx, subID string) (*models.SubDistribution, error) {
	return scanSubDistribution(tx.QueryRow(selectSubDistribution+` WHERE sub_distribution_id = $1 FOR UPDATE`, subID))
}

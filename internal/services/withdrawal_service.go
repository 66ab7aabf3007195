package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zamio/backend/internal/events"
	"github.com/zamio/backend/internal/middleware"
	"github.com/zamio/backend/internal/models"
)

// payoutQueue is the Redis list downstream settlement workers consume.
const payoutQueue = "payout_notifications"

// WithdrawalService handles royalty payout requests. Approval runs in
// two legs: the ledger debits commit first with the request at
// approved, then a second transaction locks the request, dispatches
// the payment rail and promotes it to processed. A rail failure
// therefore never leaves a half-applied ledger, and re-approving an
// approved request retries only the rail.
type WithdrawalService struct {
	db        *sql.DB
	ledger    *LedgerService
	rail      *PaymentRailService
	redis     *redis.Client
	events    *events.Publisher
	validator *ValidationHelper
}

func NewWithdrawalService(db *sql.DB, ledger *LedgerService, rail *PaymentRailService, rdb *redis.Client, publisher *events.Publisher) *WithdrawalService {
	return &WithdrawalService{
		db:        db,
		ledger:    ledger,
		rail:      rail,
		redis:     rdb,
		events:    publisher,
		validator: NewValidationHelper(),
	}
}

func newWithdrawalID() string {
	return "WDR-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:10])
}

// CheckPublishingAuthority applies the payout eligibility rules: an
// artist may withdraw only when self-published; a publisher may
// withdraw on behalf of an artist only when that artist is signed to
// them.
func (s *WithdrawalService) CheckPublishingAuthority(requesterType, requesterID, artistID string) (*models.AuthorityCheck, error) {
	switch requesterType {
	case models.RequesterArtist:
		var selfPublished bool
		err := s.db.QueryRow(`SELECT self_published FROM artists WHERE artist_id = $1`, requesterID).Scan(&selfPublished)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		if !selfPublished {
			return &models.AuthorityCheck{IsValid: false,
				Message: "Artist is signed to a publisher; the publisher must request this withdrawal"}, nil
		}
		return &models.AuthorityCheck{IsValid: true, Message: "Artist is self-published"}, nil

	case models.RequesterPublisher:
		var signedTo sql.NullString
		err := s.db.QueryRow(`SELECT publisher_id FROM artists WHERE artist_id = $1`, artistID).Scan(&signedTo)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		if !signedTo.Valid || signedTo.String != requesterID {
			return &models.AuthorityCheck{IsValid: false,
				Message: "Artist is not signed to this publisher"}, nil
		}
		return &models.AuthorityCheck{IsValid: true, Message: "Artist is signed to this publisher"}, nil
	}

	return &models.AuthorityCheck{IsValid: false, Message: "Requester type cannot initiate withdrawals"}, nil
}

type createWithdrawalRequest struct {
	Artist         string          `json:"artist"`
	Amount         decimal.Decimal `json:"amount" validate:"required"`
	Currency       string          `json:"currency"`
	PaymentMethod  string          `json:"payment_method" validate:"required,oneof=mtn_momo bank_transfer"`
	PaymentDetails json.RawMessage `json:"payment_details"`
	AdminNotes     string          `json:"admin_notes"`
}

// CreateWithdrawal records a pending payout request
// @Summary Create a withdrawal request
// @Description Artist requests a payout, or a publisher requests on behalf of a signed artist. The publishing authority check in the response is informational and re-evaluated at approval.
// @Tags withdrawals
// @Accept json
// @Produce json
// @Param request body services.createWithdrawalRequest true "Withdrawal details"
// @Success 201 {object} services.Envelope
// @Failure 400 {object} services.ErrorResponse
// @Router /api/royalties/withdrawal-request/ [post]
func (s *WithdrawalService) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	requesterID := middleware.UserID(r)
	requesterType := middleware.UserType(r)

	var req createWithdrawalRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Amount.Sign() <= 0 {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
			NewValidationError("amount", "amount must be greater than zero"))
		return
	}
	if req.Currency == "" {
		req.Currency = "GHS"
	}

	artistID := req.Artist
	var publisherID *string
	switch requesterType {
	case models.RequesterArtist:
		artistID = requesterID
	case models.RequesterPublisher:
		if artistID == "" {
			SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
				NewValidationError("artist", "artist is required for publisher withdrawals"))
			return
		}
		publisherID = &requesterID
	default:
		SendDomainError(w, ErrForbidden)
		return
	}

	check, err := s.CheckPublishingAuthority(requesterType, requesterID, artistID)
	if err != nil {
		SendDomainError(w, err)
		return
	}

	withdrawal := &models.WithdrawalRequest{
		WithdrawalID:    newWithdrawalID(),
		Requester:       requesterID,
		RequesterType:   requesterType,
		Amount:          req.Amount,
		Currency:        req.Currency,
		ArtistID:        &artistID,
		PublisherID:     publisherID,
		Status:          models.WithdrawalPending,
		ValidationNotes: check.Message,
		PaymentMethod:   req.PaymentMethod,
		PaymentDetails:  req.PaymentDetails,
		AdminNotes:      req.AdminNotes,
		RequestedAt:     time.Now(),
	}

	_, err = s.db.Exec(`
		INSERT INTO withdrawal_requests (withdrawal_id, requester, requester_type, amount, currency, artist_id, publisher_id,
		                                 status, publishing_status_validated, validation_notes, payment_method, payment_details,
		                                 admin_notes, requested_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10, $11, $12, $13, $13)`,
		withdrawal.WithdrawalID, withdrawal.Requester, withdrawal.RequesterType, withdrawal.Amount, withdrawal.Currency,
		withdrawal.ArtistID, withdrawal.PublisherID, withdrawal.Status, withdrawal.ValidationNotes,
		withdrawal.PaymentMethod, withdrawal.PaymentDetails, withdrawal.AdminNotes, withdrawal.RequestedAt)
	if err != nil {
		log.Printf("[WITHDRAWAL] create failed for %s: %v", requesterID, err)
		SendDomainError(w, err)
		return
	}

	log.Printf("[WITHDRAWAL] %s created by %s (%s), amount %s %s", withdrawal.WithdrawalID, requesterID, requesterType, req.Amount, req.Currency)
	SendEnvelope(w, http.StatusCreated, "Withdrawal request submitted", map[string]any{
		"withdrawal":                 withdrawal,
		"publishing_authority_check": check,
	})
}

// ListWithdrawals returns withdrawal requests, optionally filtered
// @Summary List withdrawal requests
// @Tags withdrawals
// @Produce json
// @Param status query string false "Filter by status"
// @Success 200 {object} services.Envelope
// @Router /api/royalties/withdrawals/ [get]
func (s *WithdrawalService) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	query := selectWithdrawal
	args := []any{}
	if status := r.URL.Query().Get("status"); status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY requested_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		SendDomainError(w, err)
		return
	}
	defer rows.Close()

	withdrawals := []models.WithdrawalRequest{}
	for rows.Next() {
		wd, err := scanWithdrawalRow(rows)
		if err != nil {
			SendDomainError(w, err)
			return
		}
		withdrawals = append(withdrawals, *wd)
	}
	if err := rows.Err(); err != nil {
		SendDomainError(w, err)
		return
	}

	SendEnvelope(w, http.StatusOK, "Withdrawals retrieved", map[string]any{
		"withdrawals": withdrawals,
		"count":       len(withdrawals),
	})
}

// GetWithdrawal returns one withdrawal request
// @Summary Get a withdrawal request
// @Tags withdrawals
// @Produce json
// @Param withdrawalID path string true "Withdrawal ID"
// @Success 200 {object} services.Envelope
// @Failure 404 {object} services.ErrorResponse
// @Router /api/royalties/withdrawals/{withdrawalID}/ [get]
func (s *WithdrawalService) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	withdrawal, err := s.getWithdrawal(chi.URLParam(r, "withdrawalID"))
	if err != nil {
		SendDomainError(w, err)
		return
	}
	SendEnvelope(w, http.StatusOK, "Withdrawal retrieved", withdrawal)
}

// CancelWithdrawal lets the requester withdraw a pending request
// @Summary Cancel a withdrawal request
// @Description Only the original requester may cancel, and only while pending
// @Tags withdrawals
// @Produce json
// @Param withdrawalID path string true "Withdrawal ID"
// @Success 200 {object} services.Envelope
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /api/royalties/withdrawals/{withdrawalID}/cancel/ [post]
func (s *WithdrawalService) CancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	withdrawalID := chi.URLParam(r, "withdrawalID")
	userID := middleware.UserID(r)

	tx, err := s.db.Begin()
	if err != nil {
		SendDomainError(w, err)
		return
	}
	defer tx.Rollback()

	withdrawal, err := s.lockWithdrawal(tx, withdrawalID)
	if err != nil {
		SendDomainError(w, err)
		return
	}
	if withdrawal.Requester != userID && middleware.UserType(r) != models.RequesterAdmin {
		SendDomainError(w, ErrForbidden)
		return
	}
	if withdrawal.Status == models.WithdrawalCancelled {
		SendEnvelope(w, http.StatusOK, "Withdrawal already cancelled", withdrawal)
		return
	}
	if withdrawal.Status != models.WithdrawalPending {
		SendDomainError(w, ErrAlreadyProcessed)
		return
	}

	now := time.Now()
	if _, err := tx.Exec(`UPDATE withdrawal_requests SET status = $1, updated_at = $2 WHERE withdrawal_id = $3`,
		models.WithdrawalCancelled, now, withdrawalID); err != nil {
		SendDomainError(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		SendDomainError(w, err)
		return
	}

	withdrawal.Status = models.WithdrawalCancelled
	withdrawal.UpdatedAt = now
	log.Printf("[WITHDRAWAL] %s cancelled by %s", withdrawalID, userID)
	SendEnvelope(w, http.StatusOK, "Withdrawal cancelled", withdrawal)
}

// ApproveWithdrawal approves and pays out a withdrawal request
// @Summary Approve a withdrawal payment
// @Description Re-validates publishing authority, debits the requester and the pool, then dispatches the payment rail. A rail failure leaves the request approved; re-approving retries the rail only.
// @Tags withdrawals
// @Produce json
// @Param withdrawalID path string true "Withdrawal ID"
// @Success 200 {object} services.Envelope
// @Failure 400 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /api/royalties/withdrawals/{withdrawalID}/approve-payment/ [post]
func (s *WithdrawalService) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	withdrawalID := chi.URLParam(r, "withdrawalID")
	adminID := middleware.UserID(r)

	withdrawal, entries, err := s.approveLedgerLeg(withdrawalID, adminID)
	if err != nil {
		SendDomainError(w, err)
		return
	}
	if withdrawal.Status == models.WithdrawalProcessed {
		SendEnvelope(w, http.StatusOK, "Withdrawal already processed", withdrawal)
		return
	}
	for _, entry := range entries {
		s.events.TransactionRecorded(entry)
	}

	withdrawal, err = s.dispatchAndProcess(withdrawalID, adminID)
	if err != nil {
		var railErr *UpstreamPaymentError
		if errors.As(err, &railErr) {
			log.Printf("[WITHDRAWAL] rail dispatch failed for %s, left approved: %v", withdrawalID, err)
		}
		SendDomainError(w, err)
		return
	}

	s.queuePayoutNotification(withdrawal)
	log.Printf("[WITHDRAWAL] %s processed by %s, amount %s %s", withdrawalID, adminID, withdrawal.Amount, withdrawal.Currency)
	SendEnvelope(w, http.StatusOK, "Withdrawal processed", withdrawal)
}

// approveLedgerLeg commits the money movement and the approved status
// in one transaction. For a request already approved it returns the row
// unchanged so the caller retries the rail; for one already processed
// it returns the stored outcome.
func (s *WithdrawalService) approveLedgerLeg(withdrawalID, adminID string) (*models.WithdrawalRequest, []*models.Transaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	withdrawal, err := s.lockWithdrawal(tx, withdrawalID)
	if err != nil {
		return nil, nil, err
	}

	switch withdrawal.Status {
	case models.WithdrawalProcessed, models.WithdrawalApproved:
		return withdrawal, nil, nil
	case models.WithdrawalRejected, models.WithdrawalCancelled:
		return nil, nil, ErrAlreadyProcessed
	}

	artistID := ""
	if withdrawal.ArtistID != nil {
		artistID = *withdrawal.ArtistID
	}
	check, err := s.CheckPublishingAuthority(withdrawal.RequesterType, withdrawal.Requester, artistID)
	if err != nil {
		return nil, nil, err
	}
	if !check.IsValid {
		return nil, nil, NewValidationError("publishing_authority", check.Message)
	}

	requesterAccount, err := s.ledger.EnsureAccount(ownerTypeFor(withdrawal.RequesterType), withdrawal.Requester, withdrawal.Currency)
	if err != nil {
		return nil, nil, err
	}
	pool, err := s.ledger.EnsureAccount(models.OwnerPlatform, models.OwnerPlatform, withdrawal.Currency)
	if err != nil {
		return nil, nil, err
	}

	description := "Withdrawal " + withdrawal.WithdrawalID
	var entries []*models.Transaction
	debitBoth := func(first, second string) error {
		for _, accountID := range []string{first, second} {
			entry, err := s.ledger.DebitTx(tx, accountID, withdrawal.Amount, models.TxWithdrawalPayout, description, "")
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	}
	if requesterAccount.AccountID < pool.AccountID {
		err = debitBoth(requesterAccount.AccountID, pool.AccountID)
	} else {
		err = debitBoth(pool.AccountID, requesterAccount.AccountID)
	}
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	_, err = tx.Exec(`
		UPDATE withdrawal_requests
		SET status = $1, publishing_status_validated = TRUE, validation_notes = $2, updated_at = $3
		WHERE withdrawal_id = $4`,
		models.WithdrawalApproved, check.Message, now, withdrawalID)
	if err != nil {
		return nil, nil, err
	}
	if err := recordAudit(tx, adminID, "approve_withdrawal", "withdrawal_request", withdrawalID,
		map[string]string{"amount": withdrawal.Amount.String()}); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	withdrawal.Status = models.WithdrawalApproved
	withdrawal.PublishingStatusValidated = true
	withdrawal.ValidationNotes = check.Message
	withdrawal.UpdatedAt = now
	return withdrawal, entries, nil
}

// dispatchAndProcess runs the rail leg while holding the request row
// FOR UPDATE, so concurrent re-approvals of an approved request cannot
// both reach the rail. A rail failure rolls back, leaving the row
// approved; a concurrent winner is observed as processed and returned
// as the stored outcome.
func (s *WithdrawalService) dispatchAndProcess(withdrawalID, adminID string) (*models.WithdrawalRequest, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	withdrawal, err := s.lockWithdrawal(tx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if withdrawal.Status == models.WithdrawalProcessed {
		return withdrawal, nil
	}
	if withdrawal.Status != models.WithdrawalApproved {
		return nil, fmt.Errorf("%w: withdrawal %s is %s", ErrConflict, withdrawalID, withdrawal.Status)
	}

	if err := s.rail.Dispatch(withdrawal); err != nil {
		return nil, err
	}

	now := time.Now()
	_, err = tx.Exec(`
		UPDATE withdrawal_requests SET status = $1, processed_by = $2, processed_at = $3, updated_at = $3
		WHERE withdrawal_id = $4`,
		models.WithdrawalProcessed, adminID, now, withdrawalID)
	if err != nil {
		return nil, err
	}
	if err := recordAudit(tx, adminID, "process_withdrawal", "withdrawal_request", withdrawalID, nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	withdrawal.Status = models.WithdrawalProcessed
	withdrawal.ProcessedBy = &adminID
	withdrawal.ProcessedAt = &now
	withdrawal.UpdatedAt = now
	return withdrawal, nil
}

type rejectWithdrawalRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// RejectWithdrawal declines a pending request
// @Summary Reject a withdrawal request
// @Tags withdrawals
// @Accept json
// @Produce json
// @Param withdrawalID path string true "Withdrawal ID"
// @Param request body services.rejectWithdrawalRequest true "Rejection reason"
// @Success 200 {object} services.Envelope
// @Failure 409 {object} services.ErrorResponse
// @Router /api/royalties/withdrawals/{withdrawalID}/reject-payment/ [post]
func (s *WithdrawalService) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	withdrawalID := chi.URLParam(r, "withdrawalID")
	adminID := middleware.UserID(r)

	var req rejectWithdrawalRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
			NewValidationError("reason", "rejection reason is required"))
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		SendDomainError(w, err)
		return
	}
	defer tx.Rollback()

	withdrawal, err := s.lockWithdrawal(tx, withdrawalID)
	if err != nil {
		SendDomainError(w, err)
		return
	}
	if withdrawal.Status == models.WithdrawalRejected {
		SendEnvelope(w, http.StatusOK, "Withdrawal already rejected", withdrawal)
		return
	}
	if withdrawal.Status != models.WithdrawalPending {
		SendDomainError(w, ErrAlreadyProcessed)
		return
	}

	now := time.Now()
	_, err = tx.Exec(`
		UPDATE withdrawal_requests
		SET status = $1, rejection_reason = $2, processed_by = $3, processed_at = $4, updated_at = $4
		WHERE withdrawal_id = $5`,
		models.WithdrawalRejected, req.Reason, adminID, now, withdrawalID)
	if err != nil {
		SendDomainError(w, err)
		return
	}
	if err := recordAudit(tx, adminID, "reject_withdrawal", "withdrawal_request", withdrawalID, req); err != nil {
		SendDomainError(w, err)
		return
	}

	if err := tx.Commit(); err != nil {
		SendDomainError(w, err)
		return
	}

	withdrawal.Status = models.WithdrawalRejected
	withdrawal.RejectionReason = req.Reason
	withdrawal.ProcessedBy = &adminID
	withdrawal.ProcessedAt = &now
	withdrawal.UpdatedAt = now

	log.Printf("[WITHDRAWAL] %s rejected by %s: %s", withdrawalID, adminID, req.Reason)
	SendEnvelope(w, http.StatusOK, "Withdrawal rejected", withdrawal)
}

func (s *WithdrawalService) queuePayoutNotification(withdrawal *models.WithdrawalRequest) {
	if s.redis == nil {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"withdrawal_id":  withdrawal.WithdrawalID,
		"requester":      withdrawal.Requester,
		"amount":         withdrawal.Amount.StringFixed(2),
		"currency":       withdrawal.Currency,
		"payment_method": withdrawal.PaymentMethod,
		"processed_at":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.redis.RPush(ctx, payoutQueue, string(payload)).Err(); err != nil {
		log.Printf("[WITHDRAWAL] payout notification enqueue failed for %s: %v", withdrawal.WithdrawalID, err)
	}
}

func ownerTypeFor(requesterType string) string {
	if requesterType == models.RequesterPublisher {
		return models.OwnerPublisher
	}
	return models.OwnerArtist
}

const selectWithdrawal = `
	SELECT w.id, w.withdrawal_id, w.requester, w.requester_type, w.amount, w.currency,
	       w.artist_id, a.name, w.publisher_id, p.name,
	       w.status, w.publishing_status_validated, COALESCE(w.validation_notes, ''),
	       w.payment_method, COALESCE(w.payment_details, '{}'), w.processed_by, w.processed_at,
	       COALESCE(w.rejection_reason, ''), COALESCE(w.admin_notes, ''), w.requested_at, w.updated_at
	FROM withdrawal_requests w
	LEFT JOIN artists a ON a.artist_id = w.artist_id
	LEFT JOIN publishers p ON p.publisher_id = w.publisher_id`

func scanWithdrawalRow(row rowScanner) (*models.WithdrawalRequest, error) {
	var wd models.WithdrawalRequest
	err := row.Scan(&wd.ID, &wd.WithdrawalID, &wd.Requester, &wd.RequesterType, &wd.Amount, &wd.Currency,
		&wd.ArtistID, &wd.ArtistName, &wd.PublisherID, &wd.PublisherName,
		&wd.Status, &wd.PublishingStatusValidated, &wd.ValidationNotes,
		&wd.PaymentMethod, &wd.PaymentDetails, &wd.ProcessedBy, &wd.ProcessedAt,
		&wd.RejectionReason, &wd.AdminNotes, &wd.RequestedAt, &wd.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &wd, nil
}

func (s *WithdrawalService) getWithdrawal(withdrawalID string) (*models.WithdrawalRequest, error) {
	return scanWithdrawalRow(s.db.QueryRow(selectWithdrawal+` WHERE w.withdrawal_id = $1`, withdrawalID))
}

func (s *WithdrawalService) lockWithdrawal(tx *sql.Tx, withdrawalID string) (*models.WithdrawalRequest, error) {
	return scanWithdrawalRow(tx.QueryRow(selectWithdrawal+` WHERE w.withdrawal_id = $1 FOR UPDATE OF w`, withdrawalID))
}

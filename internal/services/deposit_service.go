package services

import (
	"bytes"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
	"github.com/zamio/backend/internal/events"
	"github.com/zamio/backend/internal/middleware"
	"github.com/zamio/backend/internal/models"
)

// DepositService handles station funding requests: creation by the
// station, approval or rejection by an admin, and the payment QR used
// for MoMo deposits at the till.
type DepositService struct {
	db        *sql.DB
	ledger    *LedgerService
	events    *events.Publisher
	validator *ValidationHelper
}

func NewDepositService(db *sql.DB, ledger *LedgerService, publisher *events.Publisher) *DepositService {
	return &DepositService{
		db:        db,
		ledger:    ledger,
		events:    publisher,
		validator: NewValidationHelper(),
	}
}

func newDepositID() string {
	return "DEP-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:10])
}

type createDepositRequest struct {
	Amount        decimal.Decimal `json:"amount" validate:"required"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method" validate:"required,oneof=mtn_momo bank_transfer card cash"`
	Reference     string          `json:"reference"`
	Notes         string          `json:"notes"`
}

// CreateDeposit records a pending funding request
// @Summary Create a deposit request
// @Description Station requests funds to be credited after admin approval
// @Tags deposits
// @Accept json
// @Produce json
// @Param stationID path string true "Station ID"
// @Param request body services.createDepositRequest true "Deposit details"
// @Success 201 {object} services.Envelope
// @Failure 400 {object} services.ErrorResponse
// @Router /api/royalties/stations/{stationID}/deposit/ [post]
func (s *DepositService) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, "stationID")

	var req createDepositRequest
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

	stationName := s.stationName(stationID)
	deposit := &models.DepositRequest{
		DepositID:     newDepositID(),
		StationID:     stationID,
		StationName:   stationName,
		Amount:        req.Amount,
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethod,
		Reference:     req.Reference,
		Notes:         req.Notes,
		Status:        models.DepositPending,
		RequestedAt:   time.Now(),
	}

	_, err := s.db.Exec(`
		INSERT INTO deposit_requests (deposit_id, station_id, station_name, amount, currency, payment_method, reference, notes, status, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		deposit.DepositID, deposit.StationID, deposit.StationName, deposit.Amount, deposit.Currency,
		deposit.PaymentMethod, deposit.Reference, deposit.Notes, deposit.Status, deposit.RequestedAt)
	if err != nil {
		log.Printf("[DEPOSIT] create failed for station %s: %v", stationID, err)
		SendDomainError(w, err)
		return
	}

	account, err := s.ledger.EnsureAccount(models.OwnerStation, stationID, req.Currency)
	if err != nil {
		SendDomainError(w, err)
		return
	}

	log.Printf("[DEPOSIT] %s created for station %s, amount %s %s", deposit.DepositID, stationID, deposit.Amount, deposit.Currency)
	SendEnvelope(w, http.StatusCreated, "Deposit request submitted", map[string]any{
		"deposit":         deposit,
		"current_balance": account.Balance,
	})
}

// ListDeposits returns deposit requests, optionally filtered by status
// @Summary List deposit requests
// @Tags deposits
// @Produce json
// @Param status query string false "Filter by status"
// @Success 200 {object} services.Envelope
// @Router /api/royalties/stations/deposit-requests/ [get]
func (s *DepositService) ListDeposits(w http.ResponseWriter, r *http.Request) {
	query := `
		SELECT id, deposit_id, station_id, station_name, amount, currency, payment_method,
		       COALESCE(reference, ''), COALESCE(notes, ''), status, requested_at,
		       processed_at, processed_by, COALESCE(rejection_reason, '')
		FROM deposit_requests`
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

	deposits := []models.DepositRequest{}
	for rows.Next() {
		var d models.DepositRequest
		if err := rows.Scan(&d.ID, &d.DepositID, &d.StationID, &d.StationName, &d.Amount, &d.Currency,
			&d.PaymentMethod, &d.Reference, &d.Notes, &d.Status, &d.RequestedAt,
			&d.ProcessedAt, &d.ProcessedBy, &d.RejectionReason); err != nil {
			SendDomainError(w, err)
			return
		}
		deposits = append(deposits, d)
	}
	if err := rows.Err(); err != nil {
		SendDomainError(w, err)
		return
	}

	SendEnvelope(w, http.StatusOK, "Deposit requests retrieved", map[string]any{
		"deposits": deposits,
		"count":    len(deposits),
	})
}

// ApproveDeposit credits the station and completes the request
// @Summary Approve a deposit request
// @Description Credits the station ledger and marks the request completed. Retrying a completed request returns the stored result.
// @Tags deposits
// @Produce json
// @Param depositID path string true "Deposit ID"
// @Success 200 {object} services.Envelope
// @Failure 409 {object} services.ErrorResponse
// @Router /api/royalties/stations/deposits/{depositID}/approve/ [post]
func (s *DepositService) ApproveDeposit(w http.ResponseWriter, r *http.Request) {
	depositID := chi.URLParam(r, "depositID")
	adminID := middleware.UserID(r)

	tx, err := s.db.Begin()
	if err != nil {
		SendDomainError(w, err)
		return
	}
	defer tx.Rollback()

	deposit, err := s.lockDeposit(tx, depositID)
	if err != nil {
		SendDomainError(w, err)
		return
	}

	switch deposit.Status {
	case models.DepositCompleted:
		// Duplicate approval is a no-op returning the stored outcome.
		SendEnvelope(w, http.StatusOK, "Deposit already completed", deposit)
		return
	case models.DepositRejected:
		SendDomainError(w, ErrAlreadyProcessed)
		return
	}

	account, err := s.ledger.EnsureAccount(models.OwnerStation, deposit.StationID, deposit.Currency)
	if err != nil {
		SendDomainError(w, err)
		return
	}

	entry, err := s.ledger.CreditTx(tx, account.AccountID, deposit.Amount, models.TxDeposit,
		"Deposit "+deposit.DepositID, "")
	if err != nil {
		SendDomainError(w, err)
		return
	}

	now := time.Now()
	_, err = tx.Exec(`
		UPDATE deposit_requests SET status = $1, processed_at = $2, processed_by = $3 WHERE deposit_id = $4`,
		models.DepositCompleted, now, adminID, depositID)
	if err != nil {
		SendDomainError(w, err)
		return
	}
	if err := recordAudit(tx, adminID, "approve_deposit", "deposit_request", depositID,
		map[string]string{"amount": deposit.Amount.String(), "station": deposit.StationID}); err != nil {
		SendDomainError(w, err)
		return
	}

	if err := tx.Commit(); err != nil {
		SendDomainError(w, err)
		return
	}

	s.events.TransactionRecorded(entry)
	deposit.Status = models.DepositCompleted
	deposit.ProcessedAt = &now
	deposit.ProcessedBy = &adminID

	log.Printf("[DEPOSIT] %s approved by %s, credited %s %s to %s", depositID, adminID, deposit.Amount, deposit.Currency, account.AccountID)
	SendEnvelope(w, http.StatusOK, "Deposit approved", map[string]any{
		"deposit":     deposit,
		"transaction": entry,
	})
}

type rejectDepositRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// RejectDeposit declines a pending request
// @Summary Reject a deposit request
// @Tags deposits
// @Accept json
// @Produce json
// @Param depositID path string true "Deposit ID"
// @Param request body services.rejectDepositRequest true "Rejection reason"
// @Success 200 {object} services.Envelope
// @Failure 409 {object} services.ErrorResponse
// @Router /api/royalties/stations/deposits/{depositID}/reject/ [post]
func (s *DepositService) RejectDeposit(w http.ResponseWriter, r *http.Request) {
	depositID := chi.URLParam(r, "depositID")
	adminID := middleware.UserID(r)

	var req rejectDepositRequest
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

	deposit, err := s.lockDeposit(tx, depositID)
	if err != nil {
		SendDomainError(w, err)
		return
	}

	switch deposit.Status {
	case models.DepositRejected:
		SendEnvelope(w, http.StatusOK, "Deposit already rejected", deposit)
		return
	case models.DepositCompleted:
		SendDomainError(w, ErrAlreadyProcessed)
		return
	}

	now := time.Now()
	_, err = tx.Exec(`
		UPDATE deposit_requests SET status = $1, processed_at = $2, processed_by = $3, rejection_reason = $4 WHERE deposit_id = $5`,
		models.DepositRejected, now, adminID, req.Reason, depositID)
	if err != nil {
		SendDomainError(w, err)
		return
	}
	if err := recordAudit(tx, adminID, "reject_deposit", "deposit_request", depositID, req); err != nil {
		SendDomainError(w, err)
		return
	}

	if err := tx.Commit(); err != nil {
		SendDomainError(w, err)
		return
	}

	deposit.Status = models.DepositRejected
	deposit.ProcessedAt = &now
	deposit.ProcessedBy = &adminID
	deposit.RejectionReason = req.Reason

	log.Printf("[DEPOSIT] %s rejected by %s: %s", depositID, adminID, req.Reason)
	SendEnvelope(w, http.StatusOK, "Deposit rejected", deposit)
}

// DepositQR returns a payment QR for a pending request
// @Summary Deposit payment QR
// @Description Base64 PNG encoding the deposit reference for MoMo payment
// @Tags deposits
// @Produce json
// @Param depositID path string true "Deposit ID"
// @Success 200 {object} services.Envelope
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /api/royalties/stations/deposits/{depositID}/qr/ [get]
func (s *DepositService) DepositQR(w http.ResponseWriter, r *http.Request) {
	deposit, err := s.getDeposit(chi.URLParam(r, "depositID"))
	if err != nil {
		SendDomainError(w, err)
		return
	}
	if deposit.Status != models.DepositPending {
		SendDomainError(w, ErrAlreadyProcessed)
		return
	}
	if deposit.PaymentMethod != models.PayMTNMoMo {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
			NewValidationError("payment_method", "payment QR is only available for mtn_momo deposits"))
		return
	}

	payload, err := json.Marshal(map[string]any{
		"deposit_id": deposit.DepositID,
		"station":    deposit.StationID,
		"amount":     deposit.Amount.StringFixed(2),
		"currency":   deposit.Currency,
		"reference":  deposit.Reference,
	})
	if err != nil {
		SendDomainError(w, err)
		return
	}

	qr, err := qrcode.New(string(payload), qrcode.Medium)
	if err != nil {
		SendDomainError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		SendDomainError(w, err)
		return
	}

	SendEnvelope(w, http.StatusOK, "Deposit QR generated", map[string]any{
		"deposit_id": deposit.DepositID,
		"qr_image":   base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
}

func (s *DepositService) stationName(stationID string) string {
	var name string
	err := s.db.QueryRow(`SELECT name FROM stations WHERE station_id = $1`, stationID).Scan(&name)
	if err != nil {
		return stationID
	}
	return name
}

const selectDeposit = `
	SELECT id, deposit_id, station_id, station_name, amount, currency, payment_method,
	       COALESCE(reference, ''), COALESCE(notes, ''), status, requested_at,
	       processed_at, processed_by, COALESCE(rejection_reason, '')
	FROM deposit_requests
	WHERE deposit_id = $1`

func (s *DepositService) getDeposit(depositID string) (*models.DepositRequest, error) {
	return scanDeposit(s.db.QueryRow(selectDeposit, depositID))
}

func (s *DepositService) lockDeposit(tx *sql.Tx, depositID string) (*models.DepositRequest, error) {
	return scanDeposit(tx.QueryRow(selectDeposit+` FOR UPDATE`, depositID))
}

func scanDeposit(row rowScanner) (*models.DepositRequest, error) {
	var d models.DepositRequest
	err := row.Scan(&d.ID, &d.DepositID, &d.StationID, &d.StationName, &d.Amount, &d.Currency,
		&d.PaymentMethod, &d.Reference, &d.Notes, &d.Status, &d.RequestedAt,
		&d.ProcessedAt, &d.ProcessedBy, &d.RejectionReason)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

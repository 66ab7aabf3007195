package services

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/zamio/backend/internal/events"
	"github.com/zamio/backend/internal/middleware"
	"github.com/zamio/backend/internal/models"
)

// MoneyFlowService serves the balance queries and the direct ledger
// movements: admin fund additions and station play charges.
type MoneyFlowService struct {
	db        *sql.DB
	ledger    *LedgerService
	events    *events.Publisher
	validator *ValidationHelper
}

func NewMoneyFlowService(db *sql.DB, ledger *LedgerService, publisher *events.Publisher) *MoneyFlowService {
	return &MoneyFlowService{
		db:        db,
		ledger:    ledger,
		events:    publisher,
		validator: NewValidationHelper(),
	}
}

// GetPlatformBalance returns the central pool account
// @Summary Platform pool balance
// @Description Returns the singleton platform pool account with lifetime totals
// @Tags royalties
// @Produce json
// @Success 200 {object} services.Envelope
// @Failure 500 {object} services.ErrorResponse
// @Router /api/royalties/platform/balance/ [get]
func (s *MoneyFlowService) GetPlatformBalance(w http.ResponseWriter, r *http.Request) {
	account, err := s.ledger.EnsureAccount(models.OwnerPlatform, models.OwnerPlatform, "GHS")
	if err != nil {
		SendDomainError(w, err)
		return
	}
	SendEnvelope(w, http.StatusOK, "Platform balance retrieved", account)
}

// GetStationBalance returns a station account
// @Summary Station balance
// @Tags royalties
// @Produce json
// @Param stationID path string true "Station ID"
// @Success 200 {object} services.Envelope
// @Failure 404 {object} services.ErrorResponse
// @Router /api/royalties/stations/{stationID}/balance/ [get]
func (s *MoneyFlowService) GetStationBalance(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, "stationID")
	account, err := s.ledger.EnsureAccount(models.OwnerStation, stationID, "GHS")
	if err != nil {
		SendDomainError(w, err)
		return
	}
	SendEnvelope(w, http.StatusOK, "Station balance retrieved", account)
}

// GetMyBalance returns the authenticated user's account
// @Summary Current user balance
// @Tags royalties
// @Produce json
// @Success 200 {object} services.Envelope
// @Router /api/royalties/balance/ [get]
func (s *MoneyFlowService) GetMyBalance(w http.ResponseWriter, r *http.Request) {
	ownerType := middleware.UserType(r)
	ownerRef := middleware.UserID(r)
	if ownerType == "admin" {
		ownerType, ownerRef = models.OwnerPlatform, models.OwnerPlatform
	}

	account, err := s.ledger.EnsureAccount(ownerType, ownerRef, "GHS")
	if err != nil {
		SendDomainError(w, err)
		return
	}
	SendEnvelope(w, http.StatusOK, "Balance retrieved", account)
}

type addFundsRequest struct {
	Amount          decimal.Decimal `json:"amount" validate:"required"`
	Reason          string          `json:"reason" validate:"required"`
	TransactionType string          `json:"transaction_type" validate:"omitempty,oneof=adjustment refund"`
}

// AddFunds credits a station account directly
// @Summary Admin fund addition
// @Description Credits a station account with an adjustment or refund entry
// @Tags royalties
// @Accept json
// @Produce json
// @Param stationID path string true "Station ID"
// @Param request body services.addFundsRequest true "Amount, reason and optional transaction type"
// @Success 200 {object} services.Envelope
// @Failure 400 {object} services.ErrorResponse
// @Router /api/royalties/stations/{stationID}/add-funds/ [post]
func (s *MoneyFlowService) AddFunds(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, "stationID")

	var req addFundsRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	txType := models.TxAdjustment
	if req.TransactionType == models.TxRefund {
		txType = models.TxRefund
	}

	account, err := s.ledger.EnsureAccount(models.OwnerStation, stationID, "GHS")
	if err != nil {
		SendDomainError(w, err)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		SendDomainError(w, err)
		return
	}
	defer tx.Rollback()

	entry, err := s.ledger.CreditTx(tx, account.AccountID, req.Amount, txType, req.Reason, "")
	if err != nil {
		SendDomainError(w, err)
		return
	}
	if err := recordAudit(tx, middleware.UserID(r), "add_funds", "account", account.AccountID, req); err != nil {
		SendDomainError(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		SendDomainError(w, err)
		return
	}

	s.events.TransactionRecorded(entry)

	updated, err := s.ledger.GetAccount(account.AccountID)
	if err != nil {
		SendDomainError(w, err)
		return
	}
	SendEnvelope(w, http.StatusOK, "Funds added", map[string]any{
		"transaction": entry,
		"account":     updated,
	})
}

type chargePlayRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"required"`
	PlayLogID string          `json:"play_log_id" validate:"required"`
	TrackID   string          `json:"track_id"`
}

// ChargePlay moves a play royalty from a station into the pool
// @Summary Charge a station for one play
// @Description Debits the station and credits the platform pool atomically
// @Tags royalties
// @Accept json
// @Produce json
// @Param stationID path string true "Station ID"
// @Param request body services.chargePlayRequest true "Play charge"
// @Success 200 {object} services.Envelope
// @Failure 400 {object} services.ErrorResponse
// @Router /api/royalties/stations/{stationID}/charge-play/ [post]
func (s *MoneyFlowService) ChargePlay(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, "stationID")

	var req chargePlayRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	station, err := s.ledger.EnsureAccount(models.OwnerStation, stationID, "GHS")
	if err != nil {
		SendDomainError(w, err)
		return
	}
	pool, err := s.ledger.EnsureAccount(models.OwnerPlatform, models.OwnerPlatform, "GHS")
	if err != nil {
		SendDomainError(w, err)
		return
	}

	debit, credit, err := s.ledger.Transfer(station.AccountID, pool.AccountID, req.Amount,
		models.TxPlayCharge, "Play charge for "+req.PlayLogID, req.PlayLogID)
	if err != nil {
		SendDomainError(w, err)
		return
	}

	s.events.TransactionRecorded(debit)
	s.events.TransactionRecorded(credit)

	SendEnvelope(w, http.StatusOK, "Play charged", map[string]any{
		"station_transaction": debit,
		"pool_transaction":    credit,
	})
}

// ReconcileAccount recomputes a balance from the transaction log
// @Summary Reconcile an account
// @Tags royalties
// @Produce json
// @Param accountID path string true "Account ID"
// @Success 200 {object} services.Envelope
// @Failure 404 {object} services.ErrorResponse
// @Router /api/royalties/accounts/{accountID}/reconcile/ [get]
func (s *MoneyFlowService) ReconcileAccount(w http.ResponseWriter, r *http.Request) {
	result, err := s.ledger.Reconcile(chi.URLParam(r, "accountID"))
	if err != nil {
		SendDomainError(w, err)
		return
	}
	SendEnvelope(w, http.StatusOK, "Reconciliation complete", result)
}

// ListAccountTransactions pages through an account's ledger rows
// @Summary Account transaction history
// @Tags royalties
// @Produce json
// @Param accountID path string true "Account ID"
// @Param page query int false "Page number"
// @Param per_page query int false "Page size"
// @Success 200 {object} services.Envelope
// @Router /api/royalties/accounts/{accountID}/transactions/ [get]
func (s *MoneyFlowService) ListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 25
	}

	transactions, total, err := s.ledger.ListTransactions(accountID, page, perPage)
	if err != nil {
		SendDomainError(w, err)
		return
	}
	SendEnvelope(w, http.StatusOK, "Transactions retrieved",
		NewNumberedPage(page, perPage, total, transactions))
}

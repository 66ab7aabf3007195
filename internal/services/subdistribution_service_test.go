package services

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/zamio/backend/internal/models"
)

func subDistributionColumns() []string {
	return []string{
		"id", "sub_distribution_id", "parent_distribution_id", "publisher_id", "artist_id",
		"total_amount", "publisher_fee_percentage", "publisher_fee_amount", "artist_net_amount",
		"currency", "status", "calculated_at", "approved_at", "paid_to_artist_at",
		"payment_reference", "payment_method", "failure_reason",
	}
}

func subDistributionRow(status string) *sqlmock.Rows {
	return sqlmock.NewRows(subDistributionColumns()).
		AddRow(1, "SUB-1", "RD-2025-01", "pub-1", "artist-2",
			"1000.00", "15.00", "150.00", "850.00",
			"GHS", status, time.Now(), nil, nil, "", "", "")
}

func TestSubDistributionService_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSubDistributionService(db)

	t.Run("split is computed once at creation", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO sub_distributions").
			WithArgs(sqlmock.AnyArg(), "RD-2025-01", "pub-1", "artist-2",
				decimal.RequireFromString("1000"), decimal.RequireFromString("15"),
				decimal.RequireFromString("150.00"), decimal.RequireFromString("850.00"),
				"GHS", models.SubCalculated, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		body := `{"parent_distribution_id":"RD-2025-01","artist":"artist-2","total_amount":"1000","publisher_fee_percentage":"15"}`
		w := httptest.NewRecorder()
		r := authedRequest(http.MethodPost, "/sub-distributions", strings.NewReader(body),
			"pub-1", "publisher", nil)
		service.CreateSubDistribution(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Contains(t, w.Body.String(), "850.00")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fee percentage above 100 rejected", func(t *testing.T) {
		body := `{"parent_distribution_id":"RD-2025-01","artist":"artist-2","total_amount":"1000","publisher_fee_percentage":"120"}`
		w := httptest.NewRecorder()
		r := authedRequest(http.MethodPost, "/sub-distributions", strings.NewReader(body),
			"pub-1", "publisher", nil)
		service.CreateSubDistribution(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSubDistributionService_Transitions(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSubDistributionService(db)

	t.Run("approve a calculated row", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, sub_distribution_id").
			WithArgs("SUB-1").
			WillReturnRows(subDistributionRow(models.SubCalculated))
		mock.ExpectExec("UPDATE sub_distributions").
			WithArgs(models.SubApproved, sqlmock.AnyArg(), "SUB-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO audit_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		w := httptest.NewRecorder()
		r := authedRequest(http.MethodPost, "/approve", nil, "pub-1", "publisher",
			map[string]string{"subID": "SUB-1"})
		service.ApproveSubDistribution(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mark-paid requires prior approval", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, sub_distribution_id").
			WithArgs("SUB-1").
			WillReturnRows(subDistributionRow(models.SubCalculated))
		mock.ExpectRollback()

		body := `{"payment_reference":"MOMO-778","payment_method":"mtn_momo"}`
		w := httptest.NewRecorder()
		r := authedRequest(http.MethodPost, "/mark-paid", strings.NewReader(body),
			"pub-1", "publisher", map[string]string{"subID": "SUB-1"})
		service.MarkSubDistributionPaid(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mark-paid on approved row", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, sub_distribution_id").
			WithArgs("SUB-1").
			WillReturnRows(subDistributionRow(models.SubApproved))
		mock.ExpectExec("UPDATE sub_distributions").
			WithArgs(models.SubPaid, sqlmock.AnyArg(), "MOMO-778", "mtn_momo", "SUB-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO audit_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		body := `{"payment_reference":"MOMO-778","payment_method":"mtn_momo"}`
		w := httptest.NewRecorder()
		r := authedRequest(http.MethodPost, "/mark-paid", strings.NewReader(body),
			"pub-1", "publisher", map[string]string{"subID": "SUB-1"})
		service.MarkSubDistributionPaid(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mark-paid with whitespace reference rejected", func(t *testing.T) {
		body := `{"payment_reference":"   ","payment_method":"mtn_momo"}`
		w := httptest.NewRecorder()
		r := authedRequest(http.MethodPost, "/mark-paid", strings.NewReader(body),
			"pub-1", "publisher", map[string]string{"subID": "SUB-1"})
		service.MarkSubDistributionPaid(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "payment reference is required")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mark-paid without reference rejected", func(t *testing.T) {
		body := `{"payment_method":"mtn_momo"}`
		w := httptest.NewRecorder()
		r := authedRequest(http.MethodPost, "/mark-paid", strings.NewReader(body),
			"pub-1", "publisher", map[string]string{"subID": "SUB-1"})
		service.MarkSubDistributionPaid(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("paid rows cannot fail", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, sub_distribution_id").
			WithArgs("SUB-1").
			WillReturnRows(subDistributionRow(models.SubPaid))
		mock.ExpectRollback()

		body := `{"reason":"momo bounce"}`
		w := httptest.NewRecorder()
		r := authedRequest(http.MethodPost, "/mark-failed", strings.NewReader(body),
			"pub-1", "publisher", map[string]string{"subID": "SUB-1"})
		service.MarkSubDistributionFailed(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mark-failed from approved records the reason", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, sub_distribution_id").
			WithArgs("SUB-1").
			WillReturnRows(subDistributionRow(models.SubApproved))
		mock.ExpectExec("UPDATE sub_distributions").
			WithArgs(models.SubFailed, "momo bounce", "SUB-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO audit_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		body := `{"reason":"momo bounce"}`
		w := httptest.NewRecorder()
		r := authedRequest(http.MethodPost, "/mark-failed", strings.NewReader(body),
			"pub-1", "publisher", map[string]string{"subID": "SUB-1"})
		service.MarkSubDistributionFailed(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

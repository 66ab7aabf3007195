package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/zamio/backend/internal/middleware"
	"github.com/zamio/backend/internal/services"
)

func adminRequest(method, target string, body string, params map[string]string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	ctx := context.WithValue(r.Context(), middleware.UserIDKey, "admin-1")
	ctx = context.WithValue(ctx, middleware.UserTypeKey, "admin")

	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

func disputeListColumns() []string {
	return []string{
		"id", "dispute_id", "title", "description", "dispute_type", "status", "priority",
		"s_user_id", "s_email", "s_first_name", "s_last_name", "s_user_type",
		"a_user_id", "a_email", "a_first_name", "a_last_name", "a_user_type",
		"related_track_id", "related_station_id", "created_at", "updated_at", "resolved_at",
		"resolution_summary", "resolution_action_taken", "evidence_count", "comments_count",
	}
}

func TestDisputeHandler_ListDisputes(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	handler := NewDisputeHandler(services.NewDisputeService(db))

	t.Run("offset pagination links under the portal prefix", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT").
			WithArgs("under_review").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(45))
		mock.ExpectQuery("SELECT d.id, d.dispute_id").
			WithArgs("under_review", 20, 20).
			WillReturnRows(sqlmock.NewRows(disputeListColumns()).
				AddRow(1, "DSP-1", "Missing plays", "desc", "royalty_calculation", "under_review", "high",
					"artist-1", "ama@example.com", "Ama", "Serwaa", "artist",
					nil, nil, nil, nil, nil,
					nil, nil, time.Now(), time.Now(), nil, "", "", 0, 0))

		// mounted the way the admin portal consumes it
		router := chi.NewRouter()
		router.Route("/api/disputes/api/disputes", func(cr chi.Router) {
			cr.Get("/", handler.ListDisputes)
		})

		w := httptest.NewRecorder()
		r := adminRequest(http.MethodGet, "/api/disputes/api/disputes/?status=under_review&limit=20&offset=20", "", nil)
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		var envelope struct {
			Data struct {
				Count    int     `json:"count"`
				Next     *string `json:"next"`
				Previous *string `json:"previous"`
			} `json:"data"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
		assert.Equal(t, 45, envelope.Data.Count)
		if assert.NotNil(t, envelope.Data.Next) {
			assert.Contains(t, *envelope.Data.Next, "/api/disputes/api/disputes/")
			assert.Contains(t, *envelope.Data.Next, "offset=40")
		}
		if assert.NotNil(t, envelope.Data.Previous) {
			assert.Contains(t, *envelope.Data.Previous, "offset=0")
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("first page has no previous link", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
		mock.ExpectQuery("SELECT d.id, d.dispute_id").
			WithArgs(20, 0).
			WillReturnRows(sqlmock.NewRows(disputeListColumns()))

		w := httptest.NewRecorder()
		r := adminRequest(http.MethodGet, "/api/disputes/", "", nil)
		handler.ListDisputes(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		var envelope struct {
			Data struct {
				Next     *string `json:"next"`
				Previous *string `json:"previous"`
			} `json:"data"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
		assert.Nil(t, envelope.Data.Next)
		assert.Nil(t, envelope.Data.Previous)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDisputeHandler_TransitionStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	handler := NewDisputeHandler(services.NewDisputeService(db))

	t.Run("missing status rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := adminRequest(http.MethodPost, "/transition_status", `{"reason":"x"}`,
			map[string]string{"disputeID": "DSP-1"})
		handler.TransitionStatus(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Amount string `json:"amount"`
	}

	t.Run("valid single object", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"10"}`))

		var p payload
		assert.NoError(t, DecodeJSONBody(w, r, &p))
		assert.Equal(t, "10", p.Amount)
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"10","hack":"x"}`))

		var p payload
		assert.Error(t, DecodeJSONBody(w, r, &p))
	})

	t.Run("trailing data rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"10"}{"amount":"11"}`))

		var p payload
		assert.Error(t, DecodeJSONBody(w, r, &p))
	})
}

func TestSendDomainError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", NewValidationError("amount", "too small"), http.StatusBadRequest},
		{"insufficient funds", fmt.Errorf("debit: %w", ErrInsufficientFunds), http.StatusBadRequest},
		{"credit limit", ErrCreditLimit, http.StatusBadRequest},
		{"inactive account", ErrAccountInactive, http.StatusBadRequest},
		{"not found", ErrNotFound, http.StatusNotFound},
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"already processed", ErrAlreadyProcessed, http.StatusConflict},
		{"version conflict", fmt.Errorf("account: %w", ErrConflict), http.StatusConflict},
		{"rail failure", &UpstreamPaymentError{Rail: "bank_transfer", Err: errors.New("timeout")}, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			SendDomainError(w, tc.err)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}

	t.Run("validation details reach the body", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendDomainError(w, NewValidationError("reason", "rejection reason is required"))

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, []string{"rejection reason is required"}, resp.Details["reason"])
	})
}

func TestNewNumberedPage(t *testing.T) {
	t.Run("middle page", func(t *testing.T) {
		page := NewNumberedPage(2, 25, 60, nil)
		assert.Equal(t, 3, page.TotalPages)
		assert.True(t, page.HasNext)
		assert.True(t, page.HasPrevious)
	})

	t.Run("single page", func(t *testing.T) {
		page := NewNumberedPage(1, 25, 10, nil)
		assert.Equal(t, 1, page.TotalPages)
		assert.False(t, page.HasNext)
		assert.False(t, page.HasPrevious)
	})

	t.Run("empty result still reports one page", func(t *testing.T) {
		page := NewNumberedPage(1, 25, 0, nil)
		assert.Equal(t, 1, page.TotalPages)
		assert.False(t, page.HasNext)
	})
}

package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string              `json:"error"`             // Error message
	Details map[string][]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// DecodeJSONBody reads a size-limited, single-object JSON body.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("request body must only contain a single JSON object")
	}
	return nil
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	switch verr := validationErr.(type) {
	case validator.ValidationErrors:
		errorResp.Details = make(map[string][]string)
		for _, err := range verr {
			errorResp.Details[err.Field()] = append(errorResp.Details[err.Field()],
				fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag()))
		}
	case *ValidationError:
		errorResp.Details = verr.Fields
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendDomainError maps a domain error onto the HTTP surface.
func SendDomainError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	var railErr *UpstreamPaymentError
	switch {
	case errors.As(err, &verr):
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, verr)
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrCreditLimit), errors.Is(err, ErrAccountInactive):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, ErrNotFound):
		SendErrorResponse(w, "Not found", http.StatusNotFound, nil)
	case errors.Is(err, ErrForbidden):
		SendErrorResponse(w, err.Error(), http.StatusForbidden, nil)
	case errors.Is(err, ErrAlreadyProcessed), errors.Is(err, ErrConflict):
		SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case errors.As(err, &railErr):
		SendErrorResponse(w, "Payment processing failed, request remains approved for retry", http.StatusBadGateway, nil)
	default:
		SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}

// Envelope is the common response wrapper the portals consume.
type Envelope struct {
	Message string              `json:"message,omitempty"`
	Data    any                 `json:"data,omitempty"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// SendEnvelope writes a success envelope.
func SendEnvelope(w http.ResponseWriter, statusCode int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Envelope{Message: message, Data: data})
}

// OffsetPage is the {count,next,previous,results} pagination shape used
// by the dispute endpoints.
type OffsetPage struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  any     `json:"results"`
}

// NumberedPage is the page_number pagination shape used by the ledger
// transaction listings.
type NumberedPage struct {
	PageNumber  int  `json:"page_number"`
	PerPage     int  `json:"per_page"`
	TotalPages  int  `json:"total_pages"`
	TotalCount  int  `json:"total_count"`
	HasNext     bool `json:"has_next"`
	HasPrevious bool `json:"has_previous"`
	Results     any  `json:"results"`
}

// NewNumberedPage fills the derived pagination fields.
func NewNumberedPage(page, perPage, totalCount int, results any) NumberedPage {
	totalPages := (totalCount + perPage - 1) / perPage
	if totalPages == 0 {
		totalPages = 1
	}
	return NumberedPage{
		PageNumber:  page,
		PerPage:     perPage,
		TotalPages:  totalPages,
		TotalCount:  totalCount,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
		Results:     results,
	}
}

package services

import (
	"errors"
	"fmt"
)

// Domain errors surfaced by the ledger and the request workflows.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrCreditLimit       = errors.New("credit limit exceeded")
	ErrAlreadyProcessed  = errors.New("request already processed")
	ErrConflict          = errors.New("conflicting concurrent update")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("operation not permitted for this actor")
	ErrAccountInactive   = errors.New("account not active")
)

// UpstreamPaymentError wraps a payment rail failure. The enclosing
// request stays in a retryable state when this is returned.
type UpstreamPaymentError struct {
	Rail string
	Err  error
}

func (e *UpstreamPaymentError) Error() string {
	return fmt.Sprintf("payment rail %s failed: %v", e.Rail, e.Err)
}

func (e *UpstreamPaymentError) Unwrap() error { return e.Err }

// ValidationError carries per-field messages. Fields are never silently
// defaulted; a missing or malformed field always reaches the caller.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	for field, msgs := range e.Fields {
		if len(msgs) > 0 {
			return fmt.Sprintf("validation failed: %s: %s", field, msgs[0])
		}
	}
	return "validation failed"
}

// NewValidationError builds a single-field validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string][]string{field: {message}}}
}

/*
errors.go - Domain error type shared by the write path

PURPOSE:
  Every precondition failure in the core carries a stable machine code and
  an HTTP-style status. The API layer translates these once, at the request
  boundary, into {error} JSON. Infrastructure failures stay plain errors
  and surface as 500.

USAGE:
  return ledger.Errf(ledger.CodeOutOfStock, http.StatusBadRequest,
      "insufficient stock for item %s", itemID)

  if de, ok := ledger.AsDomain(err); ok {
      writeError(w, de.Status, de.Message)
  }
*/
package ledger

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// ERROR CODES - Stable machine-readable identifiers
// =============================================================================

const (
	CodeValidation        = "VALIDATION"
	CodeNotFound          = "NOT_FOUND"
	CodeConfiguration     = "CONFIGURATION"
	CodeState             = "STATE"
	CodeUnbalancedEntry   = "UNBALANCED_ENTRY"
	CodeRoundingMismatch  = "ROUNDING_MISMATCH"
	CodeAlreadyReversed   = "ALREADY_REVERSED"
	CodeOutOfStock        = "OUT_OF_STOCK"
	CodeOverReturn        = "OVER_RETURN"
	CodeFutureInventory   = "FUTURE_INVENTORY_DATE"
	CodePeriodClosed      = "PERIOD_CLOSED"
	CodeCurrencyMismatch  = "CURRENCY_MISMATCH"
	CodeCannotAdjust      = "CANNOT_ADJUST_INVENTORY"
	CodeRetryInProgress   = "RETRY_IN_PROGRESS"
)

// =============================================================================
// DOMAIN ERROR
// =============================================================================

// DomainError is a business-rule failure with an HTTP-style status. It is
// the only error kind the API boundary renders with a non-500 status.
type DomainError struct {
	Code    string
	Status  int
	Message string
}

func (e *DomainError) Error() string { return e.Message }

// Errf builds a DomainError with a formatted message.
func Errf(code string, status int, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Status: status, Message: fmt.Sprintf(format, args...)}
}

// Validationf builds a 400 validation error.
func Validationf(format string, args ...any) *DomainError {
	return Errf(CodeValidation, http.StatusBadRequest, format, args...)
}

// NotFoundf builds a 404 error for a tenant-scoped lookup miss.
func NotFoundf(format string, args ...any) *DomainError {
	return Errf(CodeNotFound, http.StatusNotFound, format, args...)
}

// Configf builds a 400 error for missing or mistyped tenant configuration.
func Configf(format string, args ...any) *DomainError {
	return Errf(CodeConfiguration, http.StatusBadRequest, format, args...)
}

// Statef builds a 400 error for a forbidden state-machine transition.
func Statef(format string, args ...any) *DomainError {
	return Errf(CodeState, http.StatusBadRequest, format, args...)
}

// Conflictf builds a 409 error (duplicate reversal, idempotency in flight).
func Conflictf(code, format string, args ...any) *DomainError {
	return Errf(code, http.StatusConflict, format, args...)
}

// AsDomain unwraps err to a DomainError if one is in the chain.
func AsDomain(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsCode reports whether err is a DomainError with the given code.
func IsCode(err error, code string) bool {
	de, ok := AsDomain(err)
	return ok && de.Code == code
}

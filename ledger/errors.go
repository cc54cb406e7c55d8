/*
errors.go - Centralized error types for the ledger engine

ERROR CATEGORIES:
  1. Validation errors - Bad input, rejected before any write
  2. Lookup errors - Referenced customer/product/route/transaction missing
  3. Store errors - Uniqueness and optimistic-concurrency conflicts
  4. Consistency errors - Ledger appended but snapshot not updated

USAGE:
    if errors.Is(err, ledger.ErrSnapshotDiverged) {
        var inc *ledger.InconsistencyError
        errors.As(err, &inc)
        reconciler.Reconcile(ctx, inc.CustomerID)
    }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is wrapped by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	ErrCustomerNotFound    = errors.New("customer not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrRouteNotFound       = errors.New("route not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrDuplicateTransactionID is returned by the ledger when the id already exists.
	ErrDuplicateTransactionID = errors.New("duplicate transaction id")

	// ErrDuplicateIdempotencyKey is returned when a retried request was already recorded.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicateCustomerID is returned when a customer id is already taken.
	ErrDuplicateCustomerID = errors.New("duplicate customer id")

	// ErrConcurrentModification is returned when a snapshot's version token is stale.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrSnapshotDiverged marks a ledger append whose snapshot update failed.
	ErrSnapshotDiverged = errors.New("customer snapshot diverged from ledger")

	// ErrInvalidRange is returned for malformed reporting ranges.
	ErrInvalidRange = errors.New("invalid date range")

	// ErrLockNotObtained is returned when a customer lock cannot be acquired.
	ErrLockNotObtained = errors.New("customer lock not obtained")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// InconsistencyError is returned when a transaction reached the ledger but the
// customer snapshot could not be updated. The ledger is authoritative; the
// snapshot must be repaired with Reconciler.Reconcile.
type InconsistencyError struct {
	CustomerID    CustomerID
	TransactionID TransactionID
	Err           error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("transaction %s recorded but snapshot for customer %s not updated: %v",
		e.TransactionID, e.CustomerID, e.Err)
}

func (e *InconsistencyError) Unwrap() []error {
	return []error{ErrSnapshotDiverged, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidRange)
}

// IsConflict returns true for uniqueness and version conflicts.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrDuplicateTransactionID) ||
		errors.Is(err, ErrDuplicateCustomerID) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrRouteNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrDuplicateTransactionID) ||
		errors.Is(err, ErrLockNotObtained)
}

/*
errors.go - Error taxonomy for the reputation engine

ERROR CATEGORIES:
  1. Validation errors - bad input, rejected before any write
  2. Store errors - transient infrastructure failure, zero writes occurred
  3. Uniqueness sentinels - translated into typed outcomes by callers,
     never surfaced as failures

  Only validation and store errors are failures. "Already done" results
  (duplicate quest, converted referral) are outcomes, not errors.

USAGE:
  if ledger.IsValidation(err) {
      // 400
  }
  if ledger.IsStoreUnavailable(err) {
      // 503, safe to retry: nothing was written
  }

SEE ALSO:
  - guard/guard.go: Converts uniqueness sentinels into outcomes
  - store/sqlite/sqlite.go: Maps driver errors into this taxonomy
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
	// ErrValidation is the umbrella every ValidationError unwraps to.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidAmount is returned for a non-positive credit or a zero adjustment.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrMissingAccount is returned when an account identifier is empty.
	ErrMissingAccount = errors.New("missing account id")

	// ErrUnknownTxType is returned for a transaction type outside the closed set.
	ErrUnknownTxType = errors.New("unknown transaction type")

	// ErrDuplicateIdempotencyKey is returned when a reward for the same
	// reference was already appended. Nothing is written.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrStoreUnavailable marks a transient storage failure. The failed
	// operation is guaranteed to have produced zero writes.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrAppNotFound is returned when an event or review references an
	// app that is not listed.
	ErrAppNotFound = errors.New("app not found")

	// ErrAppExists is returned when an app is listed under an ID already in use.
	ErrAppExists = errors.New("app already exists")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError describes rejected input.
type ValidationError struct {
	Field string
	Value any
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid %s %v: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

// StoreError wraps a driver failure with the operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrStoreUnavailable, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// Unavailable wraps err as a StoreError. Nil stays nil.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsRetryable returns true if the error might succeed on retry. Store
// failures never leave partial writes behind, so a retry re-runs the
// gate from scratch.
func IsRetryable(err error) bool {
	return IsStoreUnavailable(err)
}

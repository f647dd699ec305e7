/*
errors.go - Centralized error types for the tip engine

PURPOSE:
  All error types in one place. Controllers and the HTTP layer classify
  failures with errors.Is against the sentinels below.

ERROR CATEGORIES:
  1. Validation errors - bad monetary or hour input, nothing was mutated
  2. State conflicts - operation not allowed in the period's current state
  3. Persistence errors - a store call failed
  4. Configuration errors - malformed settings

SEE ALSO:
  - engine/lifecycle.go, engine/settlement.go: produce these errors
  - api/handlers.go: maps them to HTTP status codes
*/
package tips

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for negative, missing or malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrStateConflict is returned when a period is not in a state that
	// allows the operation (settling a paid period, deleting a paid period),
	// or when a stored settlement no longer matches the balances it was
	// computed from.
	ErrStateConflict = errors.New("state conflict")

	// ErrPersistence is returned when the store fails.
	ErrPersistence = errors.New("persistence failed")

	// ErrConfiguration is returned for malformed settings.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateName is returned when a member name is already taken in the team.
	ErrDuplicateName = errors.New("member name already exists")

	// ErrNoPendingSettlement is returned by a retry when nothing failed earlier.
	ErrNoPendingSettlement = errors.New("no pending settlement")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes which input was rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StateConflictError describes an operation refused because of period state,
// or because the records it was computed from changed since.
type StateConflictError struct {
	PeriodID  PeriodID
	State     PeriodStatus
	Operation string
	// Reason replaces the period state in the message when the conflict is
	// about something else, such as a member balance.
	Reason string
}

func (e *StateConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s: %s", e.Operation, e.Reason)
	}
	return fmt.Sprintf("cannot %s period %s: period is %s", e.Operation, e.PeriodID, e.State)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

// PersistenceError wraps a store failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// ConfigurationError names the setting that failed to parse.
type ConfigurationError struct {
	Field string
	Value string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid setting %s: %q", e.Field, e.Value)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Persistence wraps err as a PersistenceError unless it already is a domain
// error (not found, conflict) that the caller should see unchanged.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, domain := range []error{
		ErrNotFound, ErrStateConflict, ErrValidation, ErrConfiguration,
		ErrDuplicateName, ErrNoPendingSettlement, ErrPersistence,
	} {
		if errors.Is(err, domain) {
			return err
		}
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrDuplicateName)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if the operation may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}

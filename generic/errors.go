/*
errors.go - Centralized error types for the bonus engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Lookup errors - Requested records do not exist
  2. Data integrity errors - Stored rows violate a model invariant
  3. Validation errors - Bad client input
  4. Store errors - Persistence failures, wrapped with the operation name

POLICY:
  InconsistentStateError and MissingReferenceError are reported, not fatal.
  Aggregation treats Paid as authoritative and labels unknown users with
  placeholders, so a single bad row never blocks a report.

USAGE:
  if errors.Is(err, generic.ErrNotFound) {
      // no events for that user/quarter
  }

SEE ALSO:
  - bonus/aggregate.go: Produces integrity errors as report anomalies
  - bonus/service.go: Wraps store failures in OperationError
*/
package generic

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when an operation selects no records,
	// e.g. marking a quarter paid for a user with no entries in it.
	ErrNotFound = errors.New("not found")

	// ErrInconsistentState is returned when a stored row violates a model
	// invariant, e.g. paid without a payment date.
	ErrInconsistentState = errors.New("inconsistent state")

	// ErrMissingReference is returned when an event references a user or
	// part that does not exist.
	ErrMissingReference = errors.New("missing reference")

	// ErrMalformedTimestamp is returned for events without an entry time.
	ErrMalformedTimestamp = errors.New("malformed timestamp")

	// ErrInvalidQuarter is returned for quarter numbers outside 1..4 or
	// unparseable quarter labels.
	ErrInvalidQuarter = errors.New("invalid quarter")

	// ErrMissingPaymentDate is returned when marking paid without a date.
	ErrMissingPaymentDate = errors.New("payment date is required")

	// ErrPartNotFound is returned when a serial number matches no catalog part.
	ErrPartNotFound = errors.New("part not found")

	// ErrPartAlreadyEntered is returned when a part has already been entered.
	ErrPartAlreadyEntered = errors.New("part has already been entered")

	// ErrDuplicateEntry is returned when a user enters the same part twice.
	ErrDuplicateEntry = errors.New("user already entered this part")

	// ErrDuplicateSerial is returned when inserting a serial number that
	// already exists in the catalog.
	ErrDuplicateSerial = errors.New("duplicate serial number")

	// ErrEmptySerial is returned for blank serial numbers.
	ErrEmptySerial = errors.New("serial number is required")

	// ErrPaymentInProgress is returned when another payment update holds
	// the lock for the same user and quarter.
	ErrPaymentInProgress = errors.New("payment update already in progress")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError describes an empty selection.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// InconsistentStateError describes an event whose Paid flag and
// PaymentDate disagree.
type InconsistentStateError struct {
	EventID     EventID
	Paid        bool
	PaymentDate *time.Time
}

func (e *InconsistentStateError) Error() string {
	if e.Paid {
		return fmt.Sprintf("event %s is paid but has no payment date", e.EventID)
	}
	return fmt.Sprintf("event %s is pending but has payment date %s",
		e.EventID, e.PaymentDate.Format(time.RFC3339))
}

func (e *InconsistentStateError) Unwrap() error {
	return ErrInconsistentState
}

// MissingReferenceError describes a dangling user or part reference.
type MissingReferenceError struct {
	Kind string // "user" or "part"
	ID   string
}

func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("missing %s reference: %s", e.Kind, e.ID)
}

func (e *MissingReferenceError) Unwrap() error {
	return ErrMissingReference
}

// InvalidEventError wraps a per-event validation failure.
type InvalidEventError struct {
	EventID EventID
	Err     error
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("event %s: %v", e.EventID, e.Err)
}

func (e *InvalidEventError) Unwrap() error {
	return e.Err
}

// OperationError names the operation a store failure interrupted.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuarter) ||
		errors.Is(err, ErrMissingPaymentDate) ||
		errors.Is(err, ErrEmptySerial) ||
		errors.Is(err, ErrDuplicateSerial) ||
		errors.Is(err, ErrPartAlreadyEntered) ||
		errors.Is(err, ErrDuplicateEntry)
}

// IsConflict returns true if the request collided with concurrent work.
func IsConflict(err error) bool {
	return errors.Is(err, ErrPaymentInProgress)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPartNotFound)
}

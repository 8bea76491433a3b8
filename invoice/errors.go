/*
errors.go - Centralized error types for the invoice engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Store adapters wrap these sentinels and attach the driver error as a
  secondary error, so callers can branch with errors.Is() regardless of
  the backing database.

ERROR CATEGORIES:
  1. Number errors     - malformed or inconsistent manual invoice numbers
  2. Lifecycle errors  - illegal transitions, edits of locked invoices
  3. Persistence errors - unique-index conflicts, lost compare-and-set races
  4. Generation errors - one or more customer groups failed in a batch run

PROPAGATION:
  Nothing here is fatal to the process. Every failure is scoped to a
  single invoice or a single customer group. Conflicts are surfaced, never
  retried with a different number: the caller decides.

SEE ALSO:
  - allocator.go: number errors
  - lifecycle.go: TransitionError, ErrInvoiceLocked
  - generator.go: PartialGenerationError
*/
package invoice

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidNumberFormat is returned when a manual number does not match YY/MM/NNNN.
	ErrInvalidNumberFormat = errors.New("invalid invoice number format")

	// ErrPeriodMismatch is returned when the YY/MM of a manual number disagrees
	// with the invoice date.
	ErrPeriodMismatch = errors.New("invoice number period does not match invoice date")

	// ErrSequenceExhausted is returned when a period has used all 9999 numbers.
	ErrSequenceExhausted = errors.New("invoice number sequence exhausted for period")

	// ErrDuplicateInvoiceNumber is returned when the (workspace, number) unique
	// index rejects a write.
	ErrDuplicateInvoiceNumber = errors.New("duplicate invoice number")

	// ErrInvoiceLocked is returned when editing an invoice that is no longer a draft.
	ErrInvoiceLocked = errors.New("invoice is locked")

	// ErrInvalidTransition is returned for any status change not in the transition table.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrPreconditionFailed is returned when a legal transition's precondition is not met.
	ErrPreconditionFailed = errors.New("transition precondition failed")

	// ErrPartialGeneration is returned when at least one customer group failed.
	ErrPartialGeneration = errors.New("partial generation failure")

	// ErrInvoiceNotFound is returned when an invoice id does not exist.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrCustomerNotFound is returned when a customer cannot be resolved.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrLessonNotFound is returned by MarkInvoiced for unknown lesson ids.
	ErrLessonNotFound = errors.New("lesson not found")

	// ErrLessonAlreadyInvoiced is returned by MarkInvoiced when another run
	// billed one of the lessons first.
	ErrLessonAlreadyInvoiced = errors.New("lesson already invoiced")

	// ErrInvalidInvoice is returned when invoice fields fail validation.
	ErrInvalidInvoice = errors.New("invalid invoice")

	// ErrInvalidPeriod is returned for a year/month outside the calendar.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrMissingRate is returned in strict mode when neither the lesson nor the
	// customer carries an hourly rate.
	ErrMissingRate = errors.New("no billable rate")

	// ErrInvalidLesson is returned for lessons whose end precedes their start.
	ErrInvalidLesson = errors.New("invalid lesson")

	// ErrConcurrentModification is returned when a compare-and-set patch loses a race.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TransitionError describes a rejected status change.
type TransitionError struct {
	InvoiceID InvoiceID
	From      Status
	To        Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition for %s: %s -> %s", e.InvoiceID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// GroupFailure records why one customer group produced no invoice.
type GroupFailure struct {
	CustomerID CustomerID
	LessonIDs  []LessonID
	Err        error
}

// PartialGenerationError is returned alongside a GenerationResult when some
// groups failed. Groups that committed stay committed.
type PartialGenerationError struct {
	Created  []InvoiceID
	Failures []GroupFailure
}

func (e *PartialGenerationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.CustomerID, f.Err))
	}
	return fmt.Sprintf("partial generation failure: %d created, %d failed (%s)",
		len(e.Created), len(e.Failures), strings.Join(parts, "; "))
}

func (e *PartialGenerationError) Unwrap() error {
	return ErrPartialGeneration
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidNumberFormat) ||
		errors.Is(err, ErrPeriodMismatch) ||
		errors.Is(err, ErrInvalidInvoice) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrPreconditionFailed)
}

// IsConflict returns true if the error reflects a state or uniqueness conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateInvoiceNumber) ||
		errors.Is(err, ErrInvoiceLocked) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrLessonAlreadyInvoiced) ||
		errors.Is(err, ErrSequenceExhausted)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrLessonNotFound)
}

func invalidf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidInvoice, format, args...)
}

func invalidLessonf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidLesson, format, args...)
}

func wrapItem(err error, index int) error {
	return errors.Wrapf(err, "item %d", index)
}

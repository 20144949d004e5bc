/*
errors.go - Centralized error types for the labor core

ERROR CATEGORIES:
  1. Resolution errors - rate lookup failed or was ambiguous
  2. Validation errors - error-severity warnings block a submission
  3. Audit write errors - the audit append failed; the mutation rolled back
  4. Conflict errors - overlapping rate windows rejected at creation time
  5. Workflow errors - invalid status transitions, missing permissions

Resolution, audit and timeout failures are never recovered locally in a
money-affecting path. They surface to the caller with entry and correlation
context attached.
*/
package labor

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrEntryNotFound  = errors.New("time entry not found")
	ErrWorkerNotFound = errors.New("worker not found")
	ErrJobNotFound    = errors.New("job not found")
	ErrRateNotFound   = errors.New("rate record not found")

	// ErrRateUnavailable marks a storage failure during rate lookup.
	ErrRateUnavailable = errors.New("rate source unavailable")

	// ErrAmbiguousRate is returned when two active records for the same key
	// share the latest effective date at the evaluation date.
	ErrAmbiguousRate = errors.New("ambiguous rate sources")

	// ErrRateConflict is returned when a new rate window overlaps an active one.
	ErrRateConflict = errors.New("overlapping rate window")

	ErrHoursExceeded     = errors.New("daily hours ceiling exceeded")
	ErrInvalidHours      = errors.New("hours must be non-negative")
	ErrInvalidRate       = errors.New("rate must be positive")
	ErrInvalidWindow     = errors.New("invalid effective window: expiry must be after effective date")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("permission denied")

	ErrAuditWrite = errors.New("audit write failed")

	// ErrConcurrentModification is returned when an entry changed between the
	// read used for pricing and the write. Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrTxTimeout is returned when the enclosing transaction hit its deadline
	// and was rolled back.
	ErrTxTimeout = errors.New("transaction timed out")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ResolutionError is returned by the production resolution path.
type ResolutionError struct {
	WorkerID WorkerID
	JobID    JobID
	AsOf     time.Time
	Source   RateSource // strategy that failed
	Err      error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve rate for worker %s job %s on %s (%s): %v",
		e.WorkerID, e.JobID, e.AsOf.Format(DateLayout), e.Source, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ValidationError is returned when an evaluation carries an error-severity
// warning. The warnings are kept so callers can display all of them.
type ValidationError struct {
	WorkerID WorkerID
	WorkDate time.Time
	Warnings []Warning
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, w := range e.Warnings {
		if w.Severity == SeverityError {
			msgs = append(msgs, w.Message)
		}
	}
	return "time entry rejected: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrHoursExceeded }

// AuditWriteError wraps a storage failure while appending an audit record.
type AuditWriteError struct {
	EntryID       EntryID
	Action        AuditAction
	CorrelationID CorrelationID
	Err           error
}

func (e *AuditWriteError) Error() string {
	msg := fmt.Sprintf("audit write failed for entry %s action %s", e.EntryID, e.Action)
	if e.CorrelationID != "" {
		msg += " correlation " + string(e.CorrelationID)
	}
	return msg + ": " + e.Err.Error()
}

// Unwrap exposes both the sentinel and the underlying storage error.
func (e *AuditWriteError) Unwrap() []error { return []error{ErrAuditWrite, e.Err} }

// ConflictError describes an overlapping rate window.
type ConflictError struct {
	Key        RateKey
	ExistingID RateID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("rate window for %s overlaps active record %s", e.Key, e.ExistingID)
}

func (e *ConflictError) Unwrap() error { return ErrRateConflict }

// TransitionError describes a rejected status change.
type TransitionError struct {
	EntryID EntryID
	From    EntryStatus
	To      EntryStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("entry %s cannot move from %s to %s", e.EntryID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrHoursExceeded) ||
		errors.Is(err, ErrInvalidHours) ||
		errors.Is(err, ErrInvalidRate) ||
		errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrRateConflict)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrWorkerNotFound) ||
		errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, ErrRateNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTxTimeout) ||
		errors.Is(err, ErrRateUnavailable) ||
		errors.Is(err, ErrConcurrentModification)
}

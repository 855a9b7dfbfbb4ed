package reservation

import (
	"context"
	"errors"
	"strings"
)

// Conflict messages returned to callers.
const (
	MsgSeatNotAvailable = "Seat not available"
	MsgCannotRelease    = "Cannot release"
	MsgBookingConflict  = "Booking conflict"
)

// ErrSeatNotFound is returned by GetSeat for an unknown seat id.
var ErrSeatNotFound = errors.New("seat not found")

// ValidationError reports malformed input.  It is raised before any store
// access, so no state has changed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }

// ConflictError reports that a transition's precondition did not hold.
// Conflicts are expected and frequent; nothing was changed, or a partial
// multi-seat change was fully compensated.
type ConflictError struct {
	Op      string
	SeatIDs []string
	Message string
}

func (e *ConflictError) Error() string {
	return e.Op + " " + strings.Join(e.SeatIDs, ",") + ": " + e.Message
}

// InternalError wraps an infrastructure failure.  When UnknownOutcome is
// set the store call timed out or was cut off, and the write may or may
// not have landed.
type InternalError struct {
	Op             string
	UnknownOutcome bool
	Err            error
}

func (e *InternalError) Error() string {
	if e.UnknownOutcome {
		return e.Op + ": outcome unknown: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *InternalError) Unwrap() error { return e.Err }

func newInternal(op string, err error) *InternalError {
	return &InternalError{
		Op:             op,
		UnknownOutcome: errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled),
		Err:            err,
	}
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConflict reports whether err is a *ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsInternal reports whether err is an *InternalError.
func IsInternal(err error) bool {
	var i *InternalError
	return errors.As(err, &i)
}

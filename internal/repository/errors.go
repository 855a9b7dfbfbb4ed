// Package repository defines the seat store contract and its
// implementations.  A precondition that does not hold is reported as an
// ordinary ok=false result rather than an error; the sentinel values below
// cover the remaining failure scenarios that callers need to tell apart.
package repository

import "errors"

// ErrNotFound is returned by Get when no seat has the requested id.
// Handlers should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("seat not found")

// ErrInvalidEffect is returned when an Effect would violate the seat
// invariants, e.g. a held status without a holder or an expiry.
var ErrInvalidEffect = errors.New("invalid seat effect")

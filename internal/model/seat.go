package model

import (
	"fmt"
	"time"
)

// Status is the reservation state of a seat.  The set is closed: a seat
// is always exactly one of available, held or booked.
type Status string

const (
	StatusAvailable Status = "available" // free to be held
	StatusHeld      Status = "held"      // temporarily held by one user until HoldExpiresAt
	StatusBooked    Status = "booked"    // final; only a layout reset removes it
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusHeld, StatusBooked:
		return true
	}
	return false
}

// Seat is a single reservable position in the grid.
//
// Fields:
//
//	ID            – stable identifier derived from row and column (R3C5).
//	Row, Col      – 1-indexed position inside the layout.
//	Status        – current reservation state.
//	HeldBy        – holder identifier; non-nil only while Status is held.
//	HoldExpiresAt – absolute expiry of the hold; non-nil only while held.
//	Version       – incremented on every committed transition.
//	Layout        – generation of the layout the seat was created in; it
//	                increases with every layout reset and never changes
//	                afterwards.  Versions only compare within one layout.
type Seat struct {
	ID            string     `json:"id"`
	Row           int        `json:"row"`
	Col           int        `json:"col"`
	Status        Status     `json:"status"`
	HeldBy        *string    `json:"heldBy"`
	HoldExpiresAt *time.Time `json:"holdExpiresAt"`
	Version       int64      `json:"version"`
	Layout        int64      `json:"-"`
}

// Holder returns the holder identifier or "" when the seat is not held.
func (s Seat) Holder() string {
	if s.HeldBy == nil {
		return ""
	}
	return *s.HeldBy
}

// Check verifies the record invariants: a known status, and hold metadata
// present if and only if the seat is held.
func (s Seat) Check() error {
	if !s.Status.Valid() {
		return fmt.Errorf("seat %s: unknown status %q", s.ID, s.Status)
	}
	held := s.Status == StatusHeld
	if held != (s.HeldBy != nil) || held != (s.HoldExpiresAt != nil) {
		return fmt.Errorf("seat %s: hold metadata does not match status %s", s.ID, s.Status)
	}
	if s.Version < 1 {
		return fmt.Errorf("seat %s: version %d below 1", s.ID, s.Version)
	}
	return nil
}

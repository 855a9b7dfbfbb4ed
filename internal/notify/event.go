// Package notify broadcasts committed seat transitions to every connected
// observer.  Delivery is best-effort and at-most-once: there is no replay,
// so an observer that (re)connects must query the full seat state.
package notify

import "github.com/iliyamo/seatgrid/internal/model"

// Kind names an event on the wire.
type Kind string

const (
	KindSeatUpdated Kind = "seat-updated" // full post-transition seat record
	KindSeatBooked  Kind = "seat-booked"  // seat id and booking holder only
	KindLayoutReset Kind = "layout-reset" // the whole seat set was replaced
)

// Event is one committed change.  Version, Layout and Remote are
// bookkeeping that never reaches observers as JSON.
type Event struct {
	Kind     Kind        `json:"type"`
	Seat     *model.Seat `json:"seat,omitempty"`
	SeatID   string      `json:"seatId,omitempty"`
	BookedBy string      `json:"bookedBy,omitempty"`
	Rows     int         `json:"rows,omitempty"`
	Cols     int         `json:"cols,omitempty"`

	Version int64 `json:"-"` // seat version after the transition
	Layout  int64 `json:"-"` // layout generation the seat or reset belongs to
	Remote  bool  `json:"-"` // injected from another engine instance
}

// SeatUpdated builds the event for a single-seat transition.
func SeatUpdated(s model.Seat) Event {
	return Event{Kind: KindSeatUpdated, Seat: &s, Version: s.Version, Layout: s.Layout}
}

// SeatBooked builds the event for one seat of a committed booking, given
// the seat as written.
func SeatBooked(s model.Seat, bookedBy string) Event {
	return Event{Kind: KindSeatBooked, SeatID: s.ID, BookedBy: bookedBy, Version: s.Version, Layout: s.Layout}
}

// LayoutReset builds the event published before the seats of a new layout.
func LayoutReset(rows, cols int, layout int64) Event {
	return Event{Kind: KindLayoutReset, Rows: rows, Cols: cols, Layout: layout}
}

// SeatKey returns the id of the seat the event is about, or "".
func (e Event) SeatKey() string {
	if e.Seat != nil {
		return e.Seat.ID
	}
	return e.SeatID
}

// Publisher is what the reservation engine publishes to.
type Publisher interface {
	Publish(ev Event)
}

// Package queue forwards booking events to RabbitMQ for downstream
// consumers.
package queue

import (
	"time"

	"github.com/iliyamo/seatgrid/internal/notify"
)

// DefaultQueue is the durable queue booking events are published to.
const DefaultQueue = "seat.booked"

// SeatBookedEvent is published once per seat when a booking commits.  It
// carries enough for downstream consumers to log or notify without
// querying the seat store.
type SeatBookedEvent struct {
	SeatID   string `json:"seatId"`
	BookedBy string `json:"bookedBy"`
	BookedAt string `json:"bookedAt"`
}

// FromNotify maps a bus event to a queue message.  Only locally committed
// seat-booked events are forwarded; events relayed from other instances
// are published by the instance that committed them.
func FromNotify(ev notify.Event, at time.Time) (SeatBookedEvent, bool) {
	if ev.Kind != notify.KindSeatBooked || ev.Remote || ev.SeatID == "" {
		return SeatBookedEvent{}, false
	}
	return SeatBookedEvent{
		SeatID:   ev.SeatID,
		BookedBy: ev.BookedBy,
		BookedAt: at.UTC().Format(time.RFC3339Nano),
	}, true
}

package repository

import (
	"context"
	"time"

	"github.com/iliyamo/seatgrid/internal/model"
)

// Precondition describes the state a stored seat must currently be in for
// a conditional update to apply.  Zero-valued optional fields are ignored.
type Precondition struct {
	Status    model.Status // required current status
	HeldBy    string       // when set, the current holder must equal it
	ExpiredBy time.Time    // when set, hold_expires_at must be <= ExpiredBy
	LiveAt    time.Time    // when set, hold_expires_at must be > LiveAt
	Version   int64        // when set, the stored version must equal it
}

// Matches evaluates the precondition against an in-memory record.  Stores
// that cannot push the predicate down to the engine use it directly.
func (p Precondition) Matches(s model.Seat) bool {
	if s.Status != p.Status {
		return false
	}
	if p.HeldBy != "" && s.Holder() != p.HeldBy {
		return false
	}
	if p.Version != 0 && s.Version != p.Version {
		return false
	}
	if !p.ExpiredBy.IsZero() && (s.HoldExpiresAt == nil || s.HoldExpiresAt.After(p.ExpiredBy)) {
		return false
	}
	if !p.LiveAt.IsZero() && (s.HoldExpiresAt == nil || !s.HoldExpiresAt.After(p.LiveAt)) {
		return false
	}
	return true
}

// Effect is the assignment applied by a successful conditional update.
// Every applied effect also increments the seat version by one.  Hold
// metadata is only stored when Status is held and cleared otherwise.
type Effect struct {
	Status        model.Status
	HeldBy        string
	HoldExpiresAt time.Time
}

// HoldEffect moves a seat to held by userID until the given instant.
func HoldEffect(userID string, until time.Time) Effect {
	return Effect{Status: model.StatusHeld, HeldBy: userID, HoldExpiresAt: until}
}

// AvailableEffect returns a seat to available and clears its hold.
func AvailableEffect() Effect { return Effect{Status: model.StatusAvailable} }

// BookedEffect marks a seat booked and clears its hold.
func BookedEffect() Effect { return Effect{Status: model.StatusBooked} }

// Validate rejects effects that would break the hold-metadata invariant.
func (e Effect) Validate() error {
	if !e.Status.Valid() {
		return ErrInvalidEffect
	}
	if e.Status == model.StatusHeld && (e.HeldBy == "" || e.HoldExpiresAt.IsZero()) {
		return ErrInvalidEffect
	}
	return nil
}

// Apply returns s with the effect applied and its version incremented.
func (e Effect) Apply(s model.Seat) model.Seat {
	s.Status = e.Status
	s.HeldBy, s.HoldExpiresAt = e.hold()
	s.Version++
	return s
}

// hold returns the hold metadata to store: both nil unless Status is held.
func (e Effect) hold() (*string, *time.Time) {
	if e.Status != model.StatusHeld {
		return nil, nil
	}
	by := e.HeldBy
	until := e.HoldExpiresAt.UTC().Truncate(time.Millisecond)
	return &by, &until
}

// SeatStore is the durable seat mapping.  UpdateIf is the only concurrency
// control primitive: it must be linearizable per seat id, so two
// concurrent calls can never both succeed against the same precondition.
type SeatStore interface {
	// ReplaceAll deletes every seat and inserts the given set.
	ReplaceAll(ctx context.Context, seats []model.Seat) error
	// List returns all seats ordered by row then column.
	List(ctx context.Context) ([]model.Seat, error)
	// ListByHolder returns the seats currently held by userID.
	ListByHolder(ctx context.Context, userID string) ([]model.Seat, error)
	// ListExpired returns up to limit held seats whose hold expired at or
	// before now, oldest expiry first.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Seat, error)
	// Get returns one seat or ErrNotFound.
	Get(ctx context.Context, id string) (model.Seat, error)
	// UpdateIf applies eff to seat id iff it currently satisfies pre and
	// returns the post-update record.  ok is false, with a nil error, when
	// the seat does not exist or the precondition is not met; nothing is
	// written in that case.
	UpdateIf(ctx context.Context, id string, pre Precondition, eff Effect) (seat model.Seat, ok bool, err error)
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}

// BatchSeatStore is implemented by stores that can update several seats
// in one all-or-nothing transaction.
type BatchSeatStore interface {
	SeatStore
	// UpdateAllIf applies eff to every id iff every id satisfies pre.
	// The result is in the order of ids.  When any precondition fails ok is
	// false and no seat is changed.
	UpdateAllIf(ctx context.Context, ids []string, pre Precondition, eff Effect) (seats []model.Seat, ok bool, err error)
}

// Package reservation implements the seat reservation state machine.
//
// Every transition is a single conditional update against the seat store;
// the engine keeps no seat state of its own, so any number of engine
// instances may share one store.  Committed transitions are published to
// the change notifier synchronously after the store call returns.
package reservation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/iliyamo/seatgrid/internal/model"
	"github.com/iliyamo/seatgrid/internal/notify"
	"github.com/iliyamo/seatgrid/internal/repository"
)

const (
	DefaultHoldTTL      = 60 * time.Second
	DefaultStoreTimeout = 5 * time.Second
	DefaultSweepBatch   = 100

	maxSeatIDLen = 16
	maxUserIDLen = 128
)

// Options configures an Engine.  Zero values select the defaults above.
type Options struct {
	HoldTTL      time.Duration    // lifetime of a hold
	StoreTimeout time.Duration    // bound on every store call
	SweepBatch   int              // expired seats fetched per scan
	Now          func() time.Time // clock, replaced in tests
	Logger       *slog.Logger
}

// Engine exposes the seat operations.  It is safe for concurrent use.
type Engine struct {
	store  repository.SeatStore
	pub    notify.Publisher
	opts   Options
	logger *slog.Logger

	lastLayout atomic.Int64 // last layout generation handed out
}

// Layout is the result of GenerateLayout.
type Layout struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

type discardPublisher struct{}

func (discardPublisher) Publish(notify.Event) {}

// NewEngine constructs an Engine.  store must be non-nil; a nil publisher
// discards events.
func NewEngine(store repository.SeatStore, pub notify.Publisher, opts Options) *Engine {
	if store == nil {
		panic("nil seat store passed to NewEngine")
	}
	if pub == nil {
		pub = discardPublisher{}
	}
	if opts.HoldTTL <= 0 {
		opts.HoldTTL = DefaultHoldTTL
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = DefaultSweepBatch
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		store:  store,
		pub:    pub,
		opts:   opts,
		logger: logger.With("component", "reservation"),
	}
}

// HoldTTL returns the configured hold lifetime.
func (e *Engine) HoldTTL() time.Duration { return e.opts.HoldTTL }

// GenerateLayout replaces every seat with rows×cols fresh available seats.
func (e *Engine) GenerateLayout(ctx context.Context, rows, cols int) (Layout, error) {
	if err := validateDimension("rows", rows); err != nil {
		return Layout{}, err
	}
	if err := validateDimension("cols", cols); err != nil {
		return Layout{}, err
	}
	seats, err := model.NewLayout(rows, cols)
	if err != nil {
		return Layout{}, &ValidationError{Field: "layout", Message: err.Error()}
	}
	gen := e.nextLayout()
	for i := range seats {
		seats[i].Layout = gen
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.store.ReplaceAll(sctx, seats); err != nil {
		return Layout{}, e.fail("generate layout", err)
	}

	e.pub.Publish(notify.LayoutReset(rows, cols, gen))
	for _, s := range seats {
		e.pub.Publish(notify.SeatUpdated(s))
	}
	e.logger.Info("layout generated", "rows", rows, "cols", cols)
	return Layout{Rows: rows, Cols: cols}, nil
}

// nextLayout returns a layout generation above every one this engine has
// used.  Generations come from the clock so that engines sharing a store
// agree on their order.
func (e *Engine) nextLayout() int64 {
	for {
		last := e.lastLayout.Load()
		gen := max(e.opts.Now().UnixNano(), last+1)
		if e.lastLayout.CompareAndSwap(last, gen) {
			return gen
		}
	}
}

// EnsureLayout generates a layout only when the store holds no seats.  It
// reports whether a layout was generated.
func (e *Engine) EnsureLayout(ctx context.Context, rows, cols int) (bool, error) {
	seats, err := e.ListSeats(ctx)
	if err != nil {
		return false, err
	}
	if len(seats) > 0 {
		return false, nil
	}
	if _, err := e.GenerateLayout(ctx, rows, cols); err != nil {
		return false, err
	}
	return true, nil
}

// ListSeats returns every seat in row-major order.
func (e *Engine) ListSeats(ctx context.Context) ([]model.Seat, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	seats, err := e.store.List(sctx)
	if err != nil {
		return nil, e.fail("list seats", err)
	}
	return seats, nil
}

// GetSeat returns one seat or ErrSeatNotFound.
func (e *Engine) GetSeat(ctx context.Context, seatID string) (model.Seat, error) {
	if err := validateSeatID("seatId", seatID); err != nil {
		return model.Seat{}, err
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	s, err := e.store.Get(sctx, seatID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Seat{}, ErrSeatNotFound
	}
	if err != nil {
		return model.Seat{}, e.fail("get seat", err)
	}
	return s, nil
}

// ListHoldsByUser returns the seats currently held by userID.
func (e *Engine) ListHoldsByUser(ctx context.Context, userID string) ([]model.Seat, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	seats, err := e.store.ListByHolder(sctx, userID)
	if err != nil {
		return nil, e.fail("list holds", err)
	}
	return seats, nil
}

// Hold moves an available seat to held by userID for the hold TTL.
func (e *Engine) Hold(ctx context.Context, seatID, userID string) (model.Seat, error) {
	if err := validateSeatID("seatId", seatID); err != nil {
		return model.Seat{}, err
	}
	if err := validateUserID(userID); err != nil {
		return model.Seat{}, err
	}
	until := e.opts.Now().Add(e.opts.HoldTTL)
	pre := repository.Precondition{Status: model.StatusAvailable}

	seat, ok, err := e.updateIf(ctx, seatID, pre, repository.HoldEffect(userID, until))
	if err != nil {
		return model.Seat{}, e.fail("hold", err)
	}
	if !ok {
		return model.Seat{}, e.conflict("hold", MsgSeatNotAvailable, seatID)
	}
	e.pub.Publish(notify.SeatUpdated(seat))
	return seat, nil
}

// Release returns a seat held by userID to available.
func (e *Engine) Release(ctx context.Context, seatID, userID string) (model.Seat, error) {
	if err := validateSeatID("seatId", seatID); err != nil {
		return model.Seat{}, err
	}
	if err := validateUserID(userID); err != nil {
		return model.Seat{}, err
	}
	pre := repository.Precondition{Status: model.StatusHeld, HeldBy: userID}

	seat, ok, err := e.updateIf(ctx, seatID, pre, repository.AvailableEffect())
	if err != nil {
		return model.Seat{}, e.fail("release", err)
	}
	if !ok {
		return model.Seat{}, e.conflict("release", MsgCannotRelease, seatID)
	}
	e.pub.Publish(notify.SeatUpdated(seat))
	return seat, nil
}

// Book moves every listed seat from held-by-userID to booked, or none of
// them.  A hold whose expiry has passed no longer counts as held even if
// the sweeper has not reverted it yet.
func (e *Engine) Book(ctx context.Context, seatIDs []string, userID string) ([]model.Seat, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	ids, err := normalizeSeatIDs(seatIDs)
	if err != nil {
		return nil, err
	}
	pre := repository.Precondition{Status: model.StatusHeld, HeldBy: userID, LiveAt: e.opts.Now()}

	var booked []model.Seat
	if batch, ok := e.store.(repository.BatchSeatStore); ok {
		sctx, cancel := e.storeCtx(ctx)
		seats, ok, err := batch.UpdateAllIf(sctx, ids, pre, repository.BookedEffect())
		cancel()
		if err != nil {
			return nil, e.fail("book", err)
		}
		if !ok {
			return nil, e.conflict("book", MsgBookingConflict, ids...)
		}
		booked = seats
	} else {
		booked, err = e.bookEach(ctx, ids, userID, pre)
		if err != nil {
			return nil, err
		}
	}

	for _, s := range booked {
		e.pub.Publish(notify.SeatBooked(s, userID))
	}
	e.logger.Info("seats booked", "user", userID, "seats", strings.Join(ids, ","))
	return booked, nil
}

// bookStep records one seat transitioned by bookEach.
type bookStep struct {
	prior  model.Seat
	booked model.Seat
}

// bookEach books seats one conditional update at a time, for stores
// without multi-record transactions.  When a seat fails, every seat it
// already booked is reverted to its prior hold before the conflict is
// reported.  Nothing is published until the whole set has been booked.
func (e *Engine) bookEach(ctx context.Context, ids []string, userID string, pre repository.Precondition) ([]model.Seat, error) {
	steps := make([]bookStep, 0, len(ids))
	for _, id := range ids {
		prior, err := e.getForUpdate(ctx, id)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, e.abortBooking(ctx, steps, userID, e.fail("book", err))
		}
		if err != nil || !pre.Matches(prior) {
			return nil, e.abortBooking(ctx, steps, userID, e.conflict("book", MsgBookingConflict, ids...))
		}

		exact := pre
		exact.Version = prior.Version
		seat, ok, err := e.updateIf(ctx, id, exact, repository.BookedEffect())
		if err != nil {
			// The seat's own outcome is unknown and is left as is: only
			// transitions this call is sure it made are reverted.
			return nil, e.abortBooking(ctx, steps, userID, e.fail("book", err))
		}
		if !ok {
			return nil, e.abortBooking(ctx, steps, userID, e.conflict("book", MsgBookingConflict, ids...))
		}
		steps = append(steps, bookStep{prior: prior, booked: seat})
	}

	booked := make([]model.Seat, 0, len(steps))
	for _, st := range steps {
		booked = append(booked, st.booked)
	}
	return booked, nil
}

// abortBooking reverts the completed steps, newest first, and returns
// cause.  If any revert fails the seat state is no longer what the caller
// expects, so an internal error is returned instead.
func (e *Engine) abortBooking(ctx context.Context, steps []bookStep, userID string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	var failed []error
	for i := len(steps) - 1; i >= 0; i-- {
		st := steps[i]
		pre := repository.Precondition{Status: model.StatusBooked, Version: st.booked.Version}
		restore := repository.HoldEffect(userID, *st.prior.HoldExpiresAt)

		seat, ok, err := e.updateIf(ctx, st.booked.ID, pre, restore)
		if err == nil && !ok {
			err = errors.New("seat changed after booking")
		}
		if err != nil {
			e.logger.Error("booking compensation failed", "seat", st.booked.ID, "user", userID, "error", err)
			failed = append(failed, err)
			continue
		}
		e.pub.Publish(notify.SeatUpdated(seat))
	}
	if len(steps) > 0 {
		e.logger.Warn("partial booking reverted", "user", userID, "reverted", len(steps)-len(failed), "failed", len(failed))
	}
	if len(failed) > 0 {
		return newInternal("book compensation", errors.Join(append(failed, cause)...))
	}
	return cause
}

// ExpireDue reverts every hold whose expiry is at or before now to
// available.  Each revert is a conditional update, so a seat released or
// re-held since the scan is left untouched.  It returns the number of
// seats expired.
func (e *Engine) ExpireDue(ctx context.Context) (int, error) {
	now := e.opts.Now()
	pre := repository.Precondition{Status: model.StatusHeld, ExpiredBy: now}
	expired := 0
	for {
		sctx, cancel := e.storeCtx(ctx)
		due, err := e.store.ListExpired(sctx, now, e.opts.SweepBatch)
		cancel()
		if err != nil {
			return expired, e.fail("expire scan", err)
		}

		pass := 0
		var errs []error
		for _, s := range due {
			seat, ok, err := e.updateIf(ctx, s.ID, pre, repository.AvailableEffect())
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !ok {
				e.logger.Debug("hold changed before expiry", "seat", s.ID)
				continue
			}
			pass++
			e.pub.Publish(notify.SeatUpdated(seat))
		}
		expired += pass
		if len(errs) > 0 {
			return expired, e.fail("expire", errors.Join(errs...))
		}
		if len(due) < e.opts.SweepBatch || pass == 0 {
			return expired, nil
		}
	}
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.StoreTimeout)
}

func (e *Engine) updateIf(ctx context.Context, id string, pre repository.Precondition, eff repository.Effect) (model.Seat, bool, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.store.UpdateIf(sctx, id, pre, eff)
}

func (e *Engine) getForUpdate(ctx context.Context, id string) (model.Seat, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.store.Get(sctx, id)
}

func (e *Engine) conflict(op, msg string, seatIDs ...string) error {
	e.logger.Debug("conflict", "op", op, "seats", strings.Join(seatIDs, ","), "reason", msg)
	return &ConflictError{Op: op, SeatIDs: seatIDs, Message: msg}
}

func (e *Engine) fail(op string, err error) error {
	ierr := newInternal(op, err)
	if ierr.UnknownOutcome {
		e.logger.Error("store call did not complete; outcome unknown", "op", op, "error", err)
	} else {
		e.logger.Error("store call failed", "op", op, "error", err)
	}
	return ierr
}

func validateDimension(field string, n int) error {
	if !model.ValidDimension(n) {
		return &ValidationError{
			Field:   field,
			Message: "must be between " + strconv.Itoa(model.MinDimension) + " and " + strconv.Itoa(model.MaxDimension),
		}
	}
	return nil
}

func validateSeatID(field, id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return &ValidationError{Field: field, Message: "is required"}
	case len(id) > maxSeatIDLen:
		return &ValidationError{Field: field, Message: "is too long"}
	}
	if _, _, ok := model.ParseSeatID(id); !ok {
		return &ValidationError{Field: field, Message: "must look like R<row>C<col>"}
	}
	return nil
}

func validateUserID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return &ValidationError{Field: "userId", Message: "is required"}
	case len(id) > maxUserIDLen:
		return &ValidationError{Field: "userId", Message: "is too long"}
	}
	return nil
}

// normalizeSeatIDs validates a booking selection and drops duplicates,
// keeping first-seen order.
func normalizeSeatIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, &ValidationError{Field: "seatIds", Message: "must contain at least one seat"}
	}
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if err := validateSeatID("seatIds", id); err != nil {
			return nil, err
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			unique = append(unique, id)
		}
	}
	return unique, nil
}

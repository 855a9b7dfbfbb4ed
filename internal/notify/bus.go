package notify

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultBuffer is the per-subscriber queue length used when Subscribe is
// called with a non-positive size.
const DefaultBuffer = 64

// Bus is the in-process event bus.  Publish never blocks: an observer whose
// queue is full simply misses the event.  The bus remembers the last
// (layout, version) delivered per seat and drops anything older, so events
// for one seat reach observers in commit order even when publishers race.
// Events from a layout older than the last reset are dropped as well.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]*Subscription
	layout int64
	last   map[string]seatMark
	logger *slog.Logger
}

// seatMark orders the transitions of one seat across layout resets.
type seatMark struct {
	layout  int64
	version int64
}

func (m seatMark) after(prev seatMark) bool {
	if m.layout != prev.layout {
		return m.layout > prev.layout
	}
	return m.version > prev.version
}

// NewBus returns an empty bus.  A nil logger discards log output.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bus{
		subs:   make(map[string]*Subscription),
		last:   make(map[string]seatMark),
		logger: logger.With("component", "notify"),
	}
}

// Subscription is one observer's view of the bus.
type Subscription struct {
	ID      string
	ch      chan Event
	bus     *Bus
	closed  bool // guarded by bus.mu
	dropped atomic.Int64
}

// Events returns the channel events are delivered on.  It is closed by
// Close.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Dropped reports how many events this observer missed because its queue
// was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close detaches the subscription and closes its channel.  It is safe to
// call more than once.
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(b.subs, s.ID)
	close(s.ch)
}

// Subscribe registers a new observer with a queue of the given size.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &Subscription{
		ID:  uuid.NewString(),
		ch:  make(chan Event, buffer),
		bus: b,
	}
	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	b.logger.Debug("observer subscribed", "subscriber", sub.ID)
	return sub
}

// SubscriberCount returns the number of connected observers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish fans a locally committed event out to every observer.
func (b *Bus) Publish(ev Event) {
	ev.Remote = false
	b.dispatch(ev)
}

// Deliver fans out an event that was committed by another engine instance.
// Relays use it so they can tell their own events from injected ones.
func (b *Bus) Deliver(ev Event) {
	ev.Remote = true
	b.dispatch(ev)
}

func (b *Bus) dispatch(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case ev.Kind == KindLayoutReset:
		if ev.Layout < b.layout {
			b.logger.Debug("stale layout reset dropped", "layout", ev.Layout, "current", b.layout)
			return
		}
		b.layout = ev.Layout
		clear(b.last)
	case ev.SeatKey() != "" && ev.Version > 0:
		key := ev.SeatKey()
		mark := seatMark{layout: ev.Layout, version: ev.Version}
		if ev.Layout < b.layout || !mark.after(b.last[key]) {
			b.logger.Debug("stale event dropped", "seat", key, "layout", ev.Layout, "version", ev.Version, "type", ev.Kind)
			return
		}
		b.last[key] = mark
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

package reservation_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seatgrid/internal/database"
	"github.com/iliyamo/seatgrid/internal/model"
	"github.com/iliyamo/seatgrid/internal/notify"
	"github.com/iliyamo/seatgrid/internal/repository"
	"github.com/iliyamo/seatgrid/internal/reservation"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder is a notify.Publisher that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(ev notify.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

func (r *recorder) OfKind(kind notify.Kind) []notify.Event {
	var out []notify.Event
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type fixture struct {
	engine *reservation.Engine
	store  repository.SeatStore
	events *recorder
	clock  *testClock
}

func newSQLiteStore(t *testing.T) *repository.SeatRepo {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(context.Background(), db, database.SQLite))
	t.Cleanup(func() { db.Close() })
	return repository.NewSeatRepo(db)
}

// newFixture builds an engine over store with a 3x4 layout already
// generated and the layout events cleared.
func newFixture(t *testing.T, store repository.SeatStore) *fixture {
	t.Helper()
	f := &fixture{store: store, events: &recorder{}, clock: newTestClock()}
	f.engine = reservation.NewEngine(store, f.events, reservation.Options{
		HoldTTL: 60 * time.Second,
		Now:     f.clock.Now,
	})
	_, err := f.engine.GenerateLayout(context.Background(), 3, 4)
	require.NoError(t, err)
	f.events.Reset()
	return f
}

func (f *fixture) seat(t *testing.T, id string) model.Seat {
	t.Helper()
	s, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, s.Check())
	return s
}

func (f *fixture) hold(t *testing.T, id, user string) model.Seat {
	t.Helper()
	s, err := f.engine.Hold(context.Background(), id, user)
	require.NoError(t, err)
	return s
}

// memStore is a non-transactional SeatStore used to drive the engine's
// per-seat booking path.  beforeUpdate runs ahead of every UpdateIf and
// may mutate the store or return an error to simulate interference.
type memStore struct {
	mu           sync.Mutex
	seats        map[string]model.Seat
	beforeUpdate func(s *memStore, id string, pre repository.Precondition, eff repository.Effect) error
}

func newMemStore() *memStore {
	return &memStore{seats: make(map[string]model.Seat)}
}

func (m *memStore) set(s model.Seat) {
	m.mu.Lock()
	m.seats[s.ID] = s
	m.mu.Unlock()
}

func (m *memStore) ReplaceAll(_ context.Context, seats []model.Seat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seats = make(map[string]model.Seat, len(seats))
	for _, s := range seats {
		m.seats[s.ID] = s
	}
	return nil
}

func (m *memStore) sorted(keep func(model.Seat) bool) []model.Seat {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Seat{}
	for _, s := range m.seats {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].Col < out[j].Col
	})
	return out
}

func (m *memStore) List(context.Context) ([]model.Seat, error) {
	return m.sorted(func(model.Seat) bool { return true }), nil
}

func (m *memStore) ListByHolder(_ context.Context, userID string) ([]model.Seat, error) {
	return m.sorted(func(s model.Seat) bool { return s.Holder() == userID }), nil
}

func (m *memStore) ListExpired(_ context.Context, now time.Time, limit int) ([]model.Seat, error) {
	out := m.sorted(func(s model.Seat) bool {
		return s.Status == model.StatusHeld && !s.HoldExpiresAt.After(now)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Get(_ context.Context, id string) (model.Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.seats[id]
	if !ok {
		return model.Seat{}, repository.ErrNotFound
	}
	return s, nil
}

func (m *memStore) UpdateIf(_ context.Context, id string, pre repository.Precondition, eff repository.Effect) (model.Seat, bool, error) {
	if m.beforeUpdate != nil {
		if err := m.beforeUpdate(m, id, pre, eff); err != nil {
			return model.Seat{}, false, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.seats[id]
	if !ok || !pre.Matches(s) {
		return model.Seat{}, false, nil
	}
	s = eff.Apply(s)
	m.seats[id] = s
	return s, true, nil
}

func (m *memStore) Ping(context.Context) error { return nil }

// mockStore is a testify mock of repository.SeatStore.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) ReplaceAll(ctx context.Context, seats []model.Seat) error {
	return m.Called(ctx, seats).Error(0)
}

func (m *mockStore) List(ctx context.Context) ([]model.Seat, error) {
	args := m.Called(ctx)
	if seats, ok := args.Get(0).([]model.Seat); ok {
		return seats, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ListByHolder(ctx context.Context, userID string) ([]model.Seat, error) {
	args := m.Called(ctx, userID)
	if seats, ok := args.Get(0).([]model.Seat); ok {
		return seats, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Seat, error) {
	args := m.Called(ctx, now, limit)
	if seats, ok := args.Get(0).([]model.Seat); ok {
		return seats, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) Get(ctx context.Context, id string) (model.Seat, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Seat), args.Error(1)
}

func (m *mockStore) UpdateIf(ctx context.Context, id string, pre repository.Precondition, eff repository.Effect) (model.Seat, bool, error) {
	args := m.Called(ctx, id, pre, eff)
	return args.Get(0).(model.Seat), args.Bool(1), args.Error(2)
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seatgrid/internal/database"
	"github.com/iliyamo/seatgrid/internal/model"
)

func newTestRepo(t *testing.T) *SeatRepo {
	t.Helper()

	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err, "failed to open test database")
	require.NoError(t, database.Migrate(context.Background(), db, database.SQLite))

	t.Cleanup(func() {
		db.Close()
	})
	return NewSeatRepo(db)
}

const testLayout int64 = 7

func seedLayout(t *testing.T, store SeatStore, rows, cols int) {
	t.Helper()
	seats, err := model.NewLayout(rows, cols)
	require.NoError(t, err)
	for i := range seats {
		seats[i].Layout = testLayout
	}
	require.NoError(t, store.ReplaceAll(context.Background(), seats))
}

func TestSeatRepo_ReplaceAllAndList(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	seedLayout(t, repo, 5, 8)
	seats, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, seats, 40)
	require.Equal(t, "R1C1", seats[0].ID)
	require.Equal(t, "R5C8", seats[39].ID)
	for _, s := range seats {
		require.NoError(t, s.Check())
	}

	seedLayout(t, repo, 3, 3)
	seats, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, seats, 9)
}

func TestSeatRepo_ReplaceAllLargeLayout(t *testing.T) {
	repo := newTestRepo(t)
	seedLayout(t, repo, 20, 20)

	seats, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, seats, 400)
}

func TestSeatRepo_UpdateIf(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seedLayout(t, repo, 3, 3)
	until := time.Now().Add(time.Minute)

	held, ok, err := repo.UpdateIf(ctx, "R1C1", Precondition{Status: model.StatusAvailable}, HoldEffect("u1", until))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, model.StatusHeld, held.Status)
	require.Equal(t, "u1", held.Holder())
	require.WithinDuration(t, until, *held.HoldExpiresAt, time.Millisecond)
	require.Equal(t, int64(2), held.Version)

	// precondition no longer met
	_, ok, err = repo.UpdateIf(ctx, "R1C1", Precondition{Status: model.StatusAvailable}, HoldEffect("u2", until))
	require.NoError(t, err)
	require.False(t, ok)

	// stale version
	_, ok, err = repo.UpdateIf(ctx, "R1C1", Precondition{Status: model.StatusHeld, HeldBy: "u1", Version: 1}, AvailableEffect())
	require.NoError(t, err)
	require.False(t, ok)

	// wrong holder
	_, ok, err = repo.UpdateIf(ctx, "R1C1", Precondition{Status: model.StatusHeld, HeldBy: "u2"}, AvailableEffect())
	require.NoError(t, err)
	require.False(t, ok)

	released, ok, err := repo.UpdateIf(ctx, "R1C1", Precondition{Status: model.StatusHeld, HeldBy: "u1"}, AvailableEffect())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, model.StatusAvailable, released.Status)
	require.Nil(t, released.HeldBy)
	require.Nil(t, released.HoldExpiresAt)
	require.Equal(t, int64(3), released.Version)

	// unknown seat is a failed precondition, not an error
	_, ok, err = repo.UpdateIf(ctx, "R9C9", Precondition{Status: model.StatusAvailable}, HoldEffect("u1", until))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSeatRepo_UpdateIfExpiryBounds(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seedLayout(t, repo, 3, 3)
	now := time.Now().UTC()

	_, ok, err := repo.UpdateIf(ctx, "R1C1", Precondition{Status: model.StatusAvailable}, HoldEffect("u1", now.Add(time.Minute)))
	require.NoError(t, err)
	require.True(t, ok)

	expire := Precondition{Status: model.StatusHeld, ExpiredBy: now}
	_, ok, err = repo.UpdateIf(ctx, "R1C1", expire, AvailableEffect())
	require.NoError(t, err)
	require.False(t, ok, "hold is still live")

	live := Precondition{Status: model.StatusHeld, HeldBy: "u1", LiveAt: now.Add(2 * time.Minute)}
	_, ok, err = repo.UpdateIf(ctx, "R1C1", live, BookedEffect())
	require.NoError(t, err)
	require.False(t, ok, "hold would have expired")

	expire.ExpiredBy = now.Add(2 * time.Minute)
	s, ok, err := repo.UpdateIf(ctx, "R1C1", expire, AvailableEffect())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, model.StatusAvailable, s.Status)
}

func TestSeatRepo_UpdateIfRejectsInvalidEffect(t *testing.T) {
	repo := newTestRepo(t)
	seedLayout(t, repo, 3, 3)

	_, _, err := repo.UpdateIf(context.Background(), "R1C1", Precondition{Status: model.StatusAvailable}, Effect{Status: model.StatusHeld})
	require.ErrorIs(t, err, ErrInvalidEffect)
}

func TestSeatRepo_UpdateAllIfIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seedLayout(t, repo, 3, 3)
	until := time.Now().Add(time.Minute)

	for _, id := range []string{"R1C1", "R1C2"} {
		_, ok, err := repo.UpdateIf(ctx, id, Precondition{Status: model.StatusAvailable}, HoldEffect("u1", until))
		require.NoError(t, err)
		require.True(t, ok)
	}
	_, ok, err := repo.UpdateIf(ctx, "R1C3", Precondition{Status: model.StatusAvailable}, HoldEffect("u2", until))
	require.NoError(t, err)
	require.True(t, ok)

	pre := Precondition{Status: model.StatusHeld, HeldBy: "u1"}
	_, ok, err = repo.UpdateAllIf(ctx, []string{"R1C2", "R1C1", "R1C3"}, pre, BookedEffect())
	require.NoError(t, err)
	require.False(t, ok)

	for _, id := range []string{"R1C1", "R1C2"} {
		s, err := repo.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, model.StatusHeld, s.Status, id)
		require.Equal(t, int64(2), s.Version, id)
	}

	booked, ok, err := repo.UpdateAllIf(ctx, []string{"R1C2", "R1C1"}, pre, BookedEffect())
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, booked, 2)
	require.Equal(t, "R1C2", booked[0].ID)
	require.Equal(t, "R1C1", booked[1].ID)
	for _, s := range booked {
		require.Equal(t, model.StatusBooked, s.Status)
		require.Nil(t, s.HeldBy)
		require.Equal(t, int64(3), s.Version)
	}
}

func TestSeatRepo_ListByHolderAndExpired(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seedLayout(t, repo, 3, 3)
	now := time.Now()

	hold := func(id, user string, until time.Time) {
		_, ok, err := repo.UpdateIf(ctx, id, Precondition{Status: model.StatusAvailable}, HoldEffect(user, until))
		require.NoError(t, err)
		require.True(t, ok)
	}
	hold("R2C2", "u1", now.Add(-2*time.Second))
	hold("R1C1", "u1", now.Add(time.Minute))
	hold("R3C3", "u2", now.Add(-5*time.Second))

	mine, err := repo.ListByHolder(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	require.Equal(t, "R1C1", mine[0].ID)
	require.Equal(t, "R2C2", mine[1].ID)

	expired, err := repo.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	require.Equal(t, "R3C3", expired[0].ID, "oldest expiry first")

	limited, err := repo.ListExpired(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	none, err := repo.ListByHolder(ctx, "nobody")
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)
}

func TestSeatRepo_GetNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Get(context.Background(), "R1C1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSeatRepo_ConcurrentHoldsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seedLayout(t, repo, 3, 3)
	until := time.Now().Add(time.Minute)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := "u" + string(rune('a'+i))
			_, ok, err := repo.UpdateIf(ctx, "R2C2", Precondition{Status: model.StatusAvailable}, HoldEffect(user, until))
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	s, err := repo.Get(ctx, "R2C2")
	require.NoError(t, err)
	require.Equal(t, model.StatusHeld, s.Status)
	require.Equal(t, int64(2), s.Version)
}

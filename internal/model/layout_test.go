package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewLayout_FiveByEight(t *testing.T) {
	seats, err := NewLayout(5, 8)
	require.NoError(t, err)
	require.Len(t, seats, 40)

	seen := make(map[string]struct{}, len(seats))
	for _, s := range seats {
		require.NoError(t, s.Check())
		require.Equal(t, StatusAvailable, s.Status)
		require.Equal(t, int64(1), s.Version)
		require.Equal(t, SeatID(s.Row, s.Col), s.ID)
		seen[s.ID] = struct{}{}
	}
	require.Len(t, seen, 40)
	require.Equal(t, "R1C1", seats[0].ID)
	require.Equal(t, "R5C8", seats[len(seats)-1].ID)
}

func TestNewLayout_RejectsOutOfRange(t *testing.T) {
	for _, dims := range [][2]int{{2, 5}, {5, 21}, {0, 0}, {21, 3}} {
		_, err := NewLayout(dims[0], dims[1])
		require.Error(t, err, "dims %v", dims)
	}
	_, err := NewLayout(MinDimension, MaxDimension)
	require.NoError(t, err)
}

func TestParseSeatID(t *testing.T) {
	row, col, ok := ParseSeatID("R3C5")
	require.True(t, ok)
	require.Equal(t, 3, row)
	require.Equal(t, 5, col)

	for _, bad := range []string{"", "R", "RC", "R0C1", "R1C", "C1R1", "R01C1", "R1C-2", "x1C1"} {
		_, _, ok := ParseSeatID(bad)
		require.False(t, ok, bad)
	}
}

func TestSeatCheck_HoldMetadata(t *testing.T) {
	user := "u1"
	exp := time.Now()

	held := Seat{ID: "R1C1", Status: StatusHeld, HeldBy: &user, HoldExpiresAt: &exp, Version: 2}
	require.NoError(t, held.Check())
	require.Equal(t, "u1", held.Holder())

	missingExpiry := Seat{ID: "R1C1", Status: StatusHeld, HeldBy: &user, Version: 2}
	require.Error(t, missingExpiry.Check())

	strayHolder := Seat{ID: "R1C1", Status: StatusBooked, HeldBy: &user, Version: 3}
	require.Error(t, strayHolder.Check())

	unknown := Seat{ID: "R1C1", Status: Status("gone"), Version: 1}
	require.Error(t, unknown.Check())
}

package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Grid dimension bounds, inclusive.
const (
	MinDimension = 3
	MaxDimension = 20
)

// Default layout used when a caller omits rows or cols.
const (
	DefaultRows = 5
	DefaultCols = 8
)

// SeatID derives the identifier of the seat at row, col (1-indexed).
func SeatID(row, col int) string {
	return "R" + strconv.Itoa(row) + "C" + strconv.Itoa(col)
}

// ParseSeatID is the inverse of SeatID.  It returns ok=false for anything
// not of the form R<row>C<col> with positive integers.
func ParseSeatID(id string) (row, col int, ok bool) {
	if !strings.HasPrefix(id, "R") {
		return 0, 0, false
	}
	r, c, found := strings.Cut(id[1:], "C")
	if !found {
		return 0, 0, false
	}
	row, err := strconv.Atoi(r)
	if err != nil || row < 1 || strconv.Itoa(row) != r {
		return 0, 0, false
	}
	col, err = strconv.Atoi(c)
	if err != nil || col < 1 || strconv.Itoa(col) != c {
		return 0, 0, false
	}
	return row, col, true
}

// ValidDimension reports whether n is an allowed row or column count.
func ValidDimension(n int) bool {
	return n >= MinDimension && n <= MaxDimension
}

// NewLayout builds rows×cols fresh available seats at version 1, ordered
// row-major.  Dimensions must already be validated.
func NewLayout(rows, cols int) ([]Seat, error) {
	if !ValidDimension(rows) || !ValidDimension(cols) {
		return nil, fmt.Errorf("layout %dx%d outside %d..%d", rows, cols, MinDimension, MaxDimension)
	}
	seats := make([]Seat, 0, rows*cols)
	for r := 1; r <= rows; r++ {
		for c := 1; c <= cols; c++ {
			seats = append(seats, Seat{
				ID:      SeatID(r, c),
				Row:     r,
				Col:     c,
				Status:  StatusAvailable,
				Version: 1,
			})
		}
	}
	return seats, nil
}

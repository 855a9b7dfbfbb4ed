package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/iliyamo/seatgrid/internal/model"
)

// insertChunk bounds the number of rows per multi-row INSERT so the
// placeholder count stays well below driver limits.
const insertChunk = 200

const seatColumns = `id, row_num, col_num, status, held_by, hold_expires_at, version, layout_gen`

// SeatRepo is the SQL seat store.  It runs unchanged on MySQL and SQLite:
// hold_expires_at is kept as UTC milliseconds so that no dialect-specific
// date handling is needed.  Every conditional update runs inside its own
// transaction so the post-update record returned to the caller is exactly
// the one that was written.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo constructs a SeatRepo given a DB handle whose schema has
// already been migrated.
func NewSeatRepo(db *sql.DB) *SeatRepo {
	return &SeatRepo{db: db}
}

// Ping verifies that the database is reachable.
func (r *SeatRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ReplaceAll deletes every seat and inserts the given ones in a single
// transaction, so readers observe either the old or the new layout.
func (r *SeatRepo) ReplaceAll(ctx context.Context, seats []model.Seat) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM seats`); err != nil {
		return fmt.Errorf("delete seats: %w", err)
	}
	for start := 0; start < len(seats); start += insertChunk {
		end := min(start+insertChunk, len(seats))
		if err := insertSeatsTx(ctx, tx, seats[start:end]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	committed = true
	return nil
}

// insertSeatsTx inserts seats with one multi-row statement.
func insertSeatsTx(ctx context.Context, tx *sql.Tx, seats []model.Seat) error {
	if len(seats) == 0 {
		return nil
	}
	var query strings.Builder
	query.WriteString(`INSERT INTO seats (` + seatColumns + `) VALUES `)
	args := make([]any, 0, len(seats)*8)
	for i, s := range seats {
		if i > 0 {
			query.WriteString(",")
		}
		query.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
		heldBy, expires := nullHold(s.HeldBy, s.HoldExpiresAt)
		args = append(args, s.ID, s.Row, s.Col, string(s.Status), heldBy, expires, s.Version, s.Layout)
	}
	if _, err := tx.ExecContext(ctx, query.String(), args...); err != nil {
		return fmt.Errorf("insert seats: %w", err)
	}
	return nil
}

// List returns every seat in row-major order.
func (r *SeatRepo) List(ctx context.Context) ([]model.Seat, error) {
	return r.query(ctx, `SELECT `+seatColumns+` FROM seats ORDER BY row_num, col_num`)
}

// ListByHolder returns the seats currently held by userID.
func (r *SeatRepo) ListByHolder(ctx context.Context, userID string) ([]model.Seat, error) {
	return r.query(ctx,
		`SELECT `+seatColumns+` FROM seats WHERE held_by = ? ORDER BY row_num, col_num`,
		userID,
	)
}

// ListExpired returns held seats whose expiry is at or before now.
func (r *SeatRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Seat, error) {
	return r.query(ctx,
		`SELECT `+seatColumns+` FROM seats
		 WHERE status = ? AND hold_expires_at <= ?
		 ORDER BY hold_expires_at LIMIT ?`,
		string(model.StatusHeld), now.UnixMilli(), limit,
	)
}

// Get returns the seat with the given id or ErrNotFound.
func (r *SeatRepo) Get(ctx context.Context, id string) (model.Seat, error) {
	return getSeat(ctx, r.db, id)
}

// UpdateIf applies eff to a single seat when pre holds.
func (r *SeatRepo) UpdateIf(ctx context.Context, id string, pre Precondition, eff Effect) (model.Seat, bool, error) {
	seats, ok, err := r.updateIf(ctx, []string{id}, pre, eff)
	if err != nil || !ok {
		return model.Seat{}, ok, err
	}
	return seats[0], true, nil
}

// UpdateAllIf applies eff to every seat in ids when every one of them
// satisfies pre.  Rows are updated in sorted id order so that concurrent
// batches always acquire row locks in the same sequence.
func (r *SeatRepo) UpdateAllIf(ctx context.Context, ids []string, pre Precondition, eff Effect) ([]model.Seat, bool, error) {
	return r.updateIf(ctx, ids, pre, eff)
}

func (r *SeatRepo) updateIf(ctx context.Context, ids []string, pre Precondition, eff Effect) ([]model.Seat, bool, error) {
	if err := eff.Validate(); err != nil {
		return nil, false, err
	}
	if len(ids) == 0 {
		return nil, true, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin update: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	ordered := append([]string(nil), ids...)
	sort.Strings(ordered)
	for _, id := range ordered {
		ok, err := updateIfTx(ctx, tx, id, pre, eff)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
	}
	out := make([]model.Seat, 0, len(ids))
	for _, id := range ids {
		s, err := getSeat(ctx, tx, id)
		if err != nil {
			return nil, false, err
		}
		out = append(out, s)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit update: %w", err)
	}
	committed = true
	return out, true, nil
}

// updateIfTx issues the conditional UPDATE and reports whether exactly one
// row matched.  The version increment guarantees a matched row is also a
// changed row, which is what MySQL reports as affected by default.
func updateIfTx(ctx context.Context, tx *sql.Tx, id string, pre Precondition, eff Effect) (bool, error) {
	heldBy, expires := nullHold(eff.hold())
	query := `UPDATE seats SET status = ?, held_by = ?, hold_expires_at = ?, version = version + 1
	          WHERE id = ? AND status = ?`
	args := []any{string(eff.Status), heldBy, expires, id, string(pre.Status)}
	if pre.HeldBy != "" {
		query += ` AND held_by = ?`
		args = append(args, pre.HeldBy)
	}
	if pre.Version != 0 {
		query += ` AND version = ?`
		args = append(args, pre.Version)
	}
	if !pre.ExpiredBy.IsZero() {
		query += ` AND hold_expires_at <= ?`
		args = append(args, pre.ExpiredBy.UnixMilli())
	}
	if !pre.LiveAt.IsZero() {
		query += ` AND hold_expires_at > ?`
		args = append(args, pre.LiveAt.UnixMilli())
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update seat %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update seat %s: %w", id, err)
	}
	return n == 1, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSeat(ctx context.Context, q querier, id string) (model.Seat, error) {
	row := q.QueryRowContext(ctx, `SELECT `+seatColumns+` FROM seats WHERE id = ?`, id)
	s, err := scanSeat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Seat{}, ErrNotFound
	}
	if err != nil {
		return model.Seat{}, fmt.Errorf("get seat %s: %w", id, err)
	}
	return s, nil
}

func (r *SeatRepo) query(ctx context.Context, query string, args ...any) ([]model.Seat, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query seats: %w", err)
	}
	defer rows.Close()
	seats := []model.Seat{}
	for rows.Next() {
		s, err := scanSeat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan seat: %w", err)
		}
		seats = append(seats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seats: %w", err)
	}
	return seats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSeat(sc scanner) (model.Seat, error) {
	var (
		s       model.Seat
		status  string
		heldBy  sql.NullString
		expires sql.NullInt64
	)
	if err := sc.Scan(&s.ID, &s.Row, &s.Col, &status, &heldBy, &expires, &s.Version, &s.Layout); err != nil {
		return model.Seat{}, err
	}
	s.Status = model.Status(status)
	if heldBy.Valid {
		by := heldBy.String
		s.HeldBy = &by
	}
	if expires.Valid {
		t := time.UnixMilli(expires.Int64).UTC()
		s.HoldExpiresAt = &t
	}
	return s, nil
}

// nullHold converts optional hold metadata into SQL parameters.
func nullHold(by *string, until *time.Time) (sql.NullString, sql.NullInt64) {
	var (
		heldBy  sql.NullString
		expires sql.NullInt64
	)
	if by != nil {
		heldBy = sql.NullString{String: *by, Valid: true}
	}
	if until != nil {
		expires = sql.NullInt64{Int64: until.UnixMilli(), Valid: true}
	}
	return heldBy, expires
}

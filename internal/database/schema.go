package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect names the SQL engine behind a *sql.DB.
type Dialect string

const (
	MySQL  Dialect = "mysql"
	SQLite Dialect = "sqlite"
)

// MySQL has no CREATE INDEX IF NOT EXISTS, so its indexes live inside the
// table definition.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS seats (
		id              VARCHAR(16)  NOT NULL PRIMARY KEY,
		row_num         INT          NOT NULL,
		col_num         INT          NOT NULL,
		status          VARCHAR(16)  NOT NULL,
		held_by         VARCHAR(128) NULL,
		hold_expires_at BIGINT       NULL,
		version         BIGINT       NOT NULL,
		layout_gen      BIGINT       NOT NULL DEFAULT 0,
		INDEX idx_seats_expiry (status, hold_expires_at),
		INDEX idx_seats_holder (held_by)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS seats (
		id              TEXT    NOT NULL PRIMARY KEY,
		row_num         INTEGER NOT NULL,
		col_num         INTEGER NOT NULL,
		status          TEXT    NOT NULL CHECK(status IN ('available', 'held', 'booked')),
		held_by         TEXT,
		hold_expires_at INTEGER,
		version         INTEGER NOT NULL,
		layout_gen      INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_seats_expiry ON seats(status, hold_expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_seats_holder ON seats(held_by)`,
}

// Migrate creates the seats table and its indexes when missing.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	var stmts []string
	switch dialect {
	case MySQL:
		stmts = mysqlSchema
	case SQLite:
		stmts = sqliteSchema
	default:
		return fmt.Errorf("unknown sql dialect %q", dialect)
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", dialect, err)
		}
	}
	return nil
}

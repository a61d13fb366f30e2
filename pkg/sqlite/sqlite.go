// Package sqlite opens SQLite databases through the pure-Go modernc driver
// and applies migrations to them.
package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "modernc.org/sqlite"
)

const (
	driverName = "sqlite"

	defaultBusyTimeout = 5 * time.Second
)

// DSN returns the driver data source name for the database file at path.
func DSN(path string) string {
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		path, defaultBusyTimeout.Milliseconds())
}

// New opens the database file at path. SQLite serializes writers, so the pool
// is limited to a single connection.
func New(ctx context.Context, path string) (*sqlx.DB, error) {
	const op = "sqlite.New"

	db, err := sqlx.ConnectContext(ctx, driverName, DSN(path))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open database: %w", op, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

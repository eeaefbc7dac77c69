// Package postgres persists action executions and alert history.
package postgres

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and by database.PostgresDB, which adds a
// circuit breaker around the same calls
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

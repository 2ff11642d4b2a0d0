// Package store owns all SQL access. Each entity gets its own store struct
// over a shared DBTX handle, so the same methods run standalone on *sql.DB
// or inside a transaction on *sql.Tx.
package store

import (
	"context"
	"database/sql"
)

// DBTX is the intersection of *sql.DB and *sql.Tx used by the stores.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface{ Scan(...any) error }

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is the common query/exec surface shared by *sql.DB and *sql.Tx, so
// read helpers can run against either.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Transact runs fn inside a transaction, wrapped with RetryWithBackoff so
// transient SQLITE_BUSY/SQLITE_LOCKED contention is retried without the
// caller having to know about it. ctx governs both the retry budget and the
// transaction's deadline: a caller-supplied deadline that expires mid-retry
// surfaces as context.DeadlineExceeded, and no partial write is possible
// since the transaction has not committed.
func Transact(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	return RetryWithBackoff(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		if err := fn(tx); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}

		return nil
	})
}

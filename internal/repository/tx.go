package repository

import (
	"context"
	"database/sql"
)

// Querier is implemented by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxFn runs inside a transaction. Returning an error rolls the transaction back.
type TxFn func(ctx context.Context, q Querier) error

type Transactor interface {
	WithTransaction(ctx context.Context, fn TxFn) error
}

type DBTransactor struct {
	DB *sql.DB
}

// WithTransaction executes fn within a transaction.
func (t *DBTransactor) WithTransaction(ctx context.Context, fn TxFn) error {
	tx, err := t.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		// the caller classifies fn's error, so a rollback failure must not replace it
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// pick returns q, or fallback when the caller is outside a transaction.
func pick(q Querier, fallback *sql.DB) Querier {
	if q != nil {
		return q
	}
	return fallback
}

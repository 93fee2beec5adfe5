// Package dbtx runs a unit of work inside a single database/sql transaction.
package dbtx

import (
	"context"
	"database/sql"
	"fmt"

	pkgerrors "paypersist/pkg/errors"
)

// Beginner is satisfied by *sql.DB.
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// WithTx commits when fn returns nil and rolls back otherwise, including on panic.
// Failures to begin or commit are reported as storage errors.
func WithTx(ctx context.Context, db Beginner, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.ErrStorage.WithCause(fmt.Errorf("begin transaction: %w", err))
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return pkgerrors.ErrStorage.WithCause(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

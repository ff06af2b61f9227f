package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// Runner abstracts transaction execution so services can run their mutation
// units without holding a pool directly.
type Runner interface {
	RunTx(ctx context.Context, fn func(pgx.Tx) error) error
}

// PoolRunner is the production Runner backed by a pgx pool.
type PoolRunner struct {
	Pool *pgxpool.Pool
}

// RunTx runs fn inside one RepeatableRead transaction.
func (r PoolRunner) RunTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return WithTx(ctx, r.Pool, fn)
}

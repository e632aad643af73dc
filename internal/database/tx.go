package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx shared by pools and transactions. Repository
// methods take one explicitly instead of reaching for request state.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Tx is a transaction handle threaded through service operations.
//
// Cache mutations are not part of the relational transaction. An operation
// that succeeded against the cache registers the inverse mutation with
// OnRollback; it runs if the transaction is rolled back or fails to commit.
type Tx interface {
	Querier
	OnRollback(fn func(ctx context.Context))
}

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxRunner owns the transaction boundary of a request.
type TxRunner struct {
	db  Beginner
	log *slog.Logger
}

// NewTxRunner constructs a TxRunner.
func NewTxRunner(db Beginner, log *slog.Logger) *TxRunner {
	return &TxRunner{db: db, log: log}
}

// InTx runs fn inside a transaction. The transaction commits when fn returns
// nil and rolls back otherwise; rollback hooks run, newest first, whenever
// the transaction does not commit. On rollback they run before the row locks
// are released; on a failed commit the locks are already gone.
func (r *TxRunner) InTx(ctx context.Context, fn func(tx Tx) error) error {
	ptx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	tx := &pgTx{Tx: ptx}

	defer func() {
		if p := recover(); p != nil {
			r.rollback(ctx, tx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		r.rollback(ctx, tx)
		return err
	}

	if err := ptx.Commit(ctx); err != nil {
		tx.runHooks(context.WithoutCancel(ctx))
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// rollback runs the hooks while the transaction still holds its row locks,
// then rolls back. Compensation must run even when the request was cancelled.
func (r *TxRunner) rollback(ctx context.Context, tx *pgTx) {
	ctx = context.WithoutCancel(ctx)
	tx.runHooks(ctx)
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		r.log.Error("rollback transaction", "error", err)
	}
}

type pgTx struct {
	pgx.Tx
	hooks []func(context.Context)
}

func (t *pgTx) OnRollback(fn func(ctx context.Context)) {
	t.hooks = append(t.hooks, fn)
}

func (t *pgTx) runHooks(ctx context.Context) {
	for i := len(t.hooks) - 1; i >= 0; i-- {
		t.hooks[i](ctx)
	}
	t.hooks = nil
}

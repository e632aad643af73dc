// Package testkit provides in-memory stand-ins for the relational side of
// lecture admission: a transaction handle with rollback hooks, a runner that
// can be told to fail commits, and stores that enforce the same uniqueness
// rules as the PostgreSQL schema.
package testkit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Shivanand-hulikatti/lecture-admission/internal/database"
)

// ErrNoSQL is returned by the Querier methods of Tx. The in-memory stores
// never issue SQL.
var ErrNoSQL = errors.New("testkit: SQL is not supported")

// Tx is an in-memory database.Tx. Rollback runs the rollback hooks, newest
// first, and then undoes the store writes made through it.
type Tx struct {
	mu    sync.Mutex
	undo  []func()
	hooks []func(context.Context)
	done  bool
}

var _ database.Tx = (*Tx)(nil)

// NewTx returns an open transaction.
func NewTx() *Tx { return &Tx{} }

func (t *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, ErrNoSQL
}

func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, ErrNoSQL
}

func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{}
}

// OnRollback registers fn to run if the transaction does not commit.
func (t *Tx) OnRollback(fn func(ctx context.Context)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, fn)
}

// Hooks reports how many rollback hooks are registered.
func (t *Tx) Hooks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.hooks)
}

// Commit keeps all writes and discards the hooks.
func (t *Tx) Commit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.undo, t.hooks, t.done = nil, nil, true
}

// Rollback runs the rollback hooks and undoes store writes.
func (t *Tx) Rollback(ctx context.Context) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	undo, hooks := t.undo, t.hooks
	t.undo, t.hooks, t.done = nil, nil, true
	t.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i](ctx)
	}
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

func (t *Tx) addUndo(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.undo = append(t.undo, fn)
}

type errRow struct{}

func (errRow) Scan(...any) error { return ErrNoSQL }

// Runner mirrors database.TxRunner over Tx.
type Runner struct {
	// FailCommit, when set, makes every commit fail with this error after fn
	// succeeded.
	FailCommit error
}

// InTx runs fn in a fresh Tx and commits it when fn returns nil.
func (r *Runner) InTx(ctx context.Context, fn func(tx database.Tx) error) error {
	tx := NewTx()
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback(context.WithoutCancel(ctx))
		return err
	}
	if r.FailCommit != nil {
		tx.Rollback(context.WithoutCancel(ctx))
		return fmt.Errorf("commit transaction: %w", r.FailCommit)
	}
	tx.Commit()
	return nil
}

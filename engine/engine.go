// Package engine adapts a database/sql backend into the relational engine
// the kernel executes batches against: prepared plans with a staleness
// check, transactions with savepoints, sequential column scans and catalog
// lookups.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/lib/pq/oid"
)

// Options holds engine tuning
type Options struct {
	Isolation    sql.IsolationLevel // Isolation of kernel transactions (default: driver default)
	MaxOpenConns int                // 0 means unlimited
}

// Engine is a relational engine reached through database/sql
type Engine struct {
	db      *sql.DB
	dialect dialect
	opts    Options

	// generation identifies the catalog state plans were prepared against
	generation atomic.Uint64
}

// Open connects to the engine and verifies the connection.
func Open(ctx context.Context, driver, dsn string, opts Options) (*Engine, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return newEngine(db, d, opts), nil
}

func newEngine(db *sql.DB, d dialect, opts Options) *Engine {
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	e := &Engine{db: db, dialect: d, opts: opts}
	e.generation.Store(1)
	return e
}

// DB returns the underlying connection pool
func (e *Engine) DB() *sql.DB {
	return e.db
}

// Close closes the connection pool
func (e *Engine) Close() error {
	return e.db.Close()
}

// AbortsOnError reports whether a failed statement aborts the enclosing
// transaction until rolled back to a savepoint.
func (e *Engine) AbortsOnError() bool {
	return e.dialect.abortsOnError()
}

// Prepare compiles template, written with $n placeholders, into a plan
// taking len(argTypes) arguments.
func (e *Engine) Prepare(ctx context.Context, template string, argTypes []oid.Oid) (*Plan, error) {
	if n := countArgs(template); n != len(argTypes) {
		return nil, fmt.Errorf("%w: template has %d, got %d types", ErrArity, n, len(argTypes))
	}
	query, err := e.dialect.rebind(template)
	if err != nil {
		return nil, err
	}
	generation := e.generation.Load()
	stmt, err := e.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &Plan{
		stmt:       stmt,
		template:   template,
		argTypes:   append([]oid.Oid(nil), argTypes...),
		generation: generation,
	}, nil
}

// PlanValid reports whether p was prepared against the current catalog
func (e *Engine) PlanValid(p *Plan) bool {
	return p != nil && !p.closed.Load() && p.generation == e.generation.Load()
}

// InvalidatePlans marks every plan prepared so far as stale
func (e *Engine) InvalidatePlans() {
	e.generation.Add(1)
}

// ExecDDL runs a schema changing statement and invalidates existing plans
func (e *Engine) ExecDDL(ctx context.Context, stmt string) error {
	_, err := e.db.ExecContext(ctx, stmt)
	e.InvalidatePlans()
	return err
}

// Execute runs p once outside of any transaction and discards its results
func (e *Engine) Execute(ctx context.Context, p *Plan, args []any) (int64, error) {
	res, err := p.stmt.ExecContext(ctx, args...)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// Begin starts a transaction with the configured isolation level
func (e *Engine) Begin(ctx context.Context) (*Tx, error) {
	var opts *sql.TxOptions
	if e.opts.Isolation != sql.LevelDefault {
		opts = &sql.TxOptions{Isolation: e.opts.Isolation}
	}
	tx, err := e.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, engine: e}, nil
}

// Column resolves table and column against the catalog
func (e *Engine) Column(ctx context.Context, table, column string) (Column, error) {
	return e.dialect.column(ctx, e.db, table, column)
}

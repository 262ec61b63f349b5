package engine

import (
	"context"
	"database/sql"
)

// Tx is an engine transaction. Savepoints provide nested sub-transactions
// that roll back independently of the enclosing transaction.
type Tx struct {
	tx     *sql.Tx
	engine *Engine
	stmts  map[*Plan]*sql.Stmt
}

// Savepoint opens a sub-transaction named name
func (t *Tx) Savepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "SAVEPOINT "+t.engine.dialect.quoteIdent(name))
	return err
}

// RollbackTo discards everything done since the savepoint and releases it
func (t *Tx) RollbackTo(ctx context.Context, name string) error {
	ident := t.engine.dialect.quoteIdent(name)
	if _, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+ident); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+ident)
	return err
}

// Release keeps the work of the savepoint and merges it into the enclosing
// transaction.
func (t *Tx) Release(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+t.engine.dialect.quoteIdent(name))
	return err
}

// Execute runs p within the transaction and discards its results
func (t *Tx) Execute(ctx context.Context, p *Plan, args []any) (int64, error) {
	stmt, ok := t.stmts[p]
	if !ok {
		stmt = t.tx.StmtContext(ctx, p.stmt)
		if t.stmts == nil {
			t.stmts = make(map[*Plan]*sql.Stmt)
		}
		t.stmts[p] = stmt
	}
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// Scan opens a sequential scan over one column of a table
func (t *Tx) Scan(ctx context.Context, col Column) (*Cursor, error) {
	query := "SELECT " + t.engine.dialect.quoteIdent(col.Name) + " FROM " + col.Relation
	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &Cursor{rows: rows}, nil
}

// Commit commits the transaction
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback aborts the transaction. Calling it after Commit is a no-op
// returning sql.ErrTxDone.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// Cursor iterates over the values of a column scan
type Cursor struct {
	rows  *sql.Rows
	value any
	err   error
}

// Next advances to the next row
func (c *Cursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	if err := c.rows.Scan(&c.value); err != nil {
		c.err = err
		return false
	}
	return true
}

// Value returns the current column value as returned by the driver
func (c *Cursor) Value() any {
	return c.value
}

// Err returns the error that stopped the iteration, if any
func (c *Cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

// Close releases the cursor
func (c *Cursor) Close() error {
	return c.rows.Close()
}

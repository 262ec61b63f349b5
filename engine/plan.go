package engine

import (
	"database/sql"
	"sync/atomic"

	"github.com/lib/pq/oid"
)

// Plan is a prepared statement together with the argument types it was
// prepared for.
type Plan struct {
	stmt       *sql.Stmt
	template   string
	argTypes   []oid.Oid
	generation uint64
	closed     atomic.Bool
}

// SQL returns the template the plan was prepared from
func (p *Plan) SQL() string {
	return p.template
}

// ArgTypes returns the argument types, one per placeholder
func (p *Plan) ArgTypes() []oid.Oid {
	return p.argTypes
}

// NumArgs returns the number of arguments an execution expects
func (p *Plan) NumArgs() int {
	return len(p.argTypes)
}

// Close releases the prepared statement. It is safe to call more than once.
func (p *Plan) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.stmt.Close()
}

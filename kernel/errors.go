package kernel

import (
	"errors"
	"fmt"
)

// Severity classifies how far a failure reaches
type Severity int

const (
	// SeverityRow failures affect one row; the batch continues and rolls back
	SeverityRow Severity = iota
	// SeverityBatch failures stop one batch; the kernel keeps serving
	SeverityBatch
	// SeverityProcess failures leave the kernel unable to serve at all
	SeverityProcess
)

func (s Severity) String() string {
	switch s {
	case SeverityRow:
		return "row"
	case SeverityBatch:
		return "batch"
	case SeverityProcess:
		return "process"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Error is a kernel failure tagged with its reach
type Error struct {
	Severity Severity
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Severity, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func rowError(op string, err error) *Error {
	return &Error{Severity: SeverityRow, Op: op, Err: err}
}

func batchError(op string, err error) *Error {
	return &Error{Severity: SeverityBatch, Op: op, Err: err}
}

// SeverityOf returns the severity of err, treating untagged errors as
// batch-level.
func SeverityOf(err error) Severity {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Severity
	}
	return SeverityBatch
}

// ErrCacheClosed is returned by a plan cache after Shutdown
var ErrCacheClosed = errors.New("plan cache is shut down")

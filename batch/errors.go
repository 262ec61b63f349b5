package batch

import "errors"

var (
	// ErrSchedulerClosed is returned when queries are submitted to a closed scheduler
	ErrSchedulerClosed = errors.New("batch scheduler is closed")

	// ErrNoCaller is returned by New when no kernel caller is given
	ErrNoCaller = errors.New("batch scheduler needs a kernel caller")
)

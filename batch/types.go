package batch

import (
	"context"
	"time"

	"github.com/fernwer/Duet/parser"
	"github.com/fernwer/Duet/payload"
)

// QueryBatch holds the queries sharing one fingerprint and scan hint
type QueryBatch struct {
	Fingerprint     string
	FingerprintHash uint64
	Queries         []*parser.ParsedQuery
	FirstSeen       time.Time
}

// Trigger records why a batch was flushed
type Trigger string

const (
	TriggerSize   Trigger = "size"
	TriggerWindow Trigger = "window"
	TriggerManual Trigger = "manual"
)

// Caller sends an encoded batch to a kernel entry point and returns its
// status text. *kernel.Kernel and *transport.Client implement it.
type Caller interface {
	Call(ctx context.Context, entry payload.Entry, hexPayload string) (string, error)
}

// Report describes one flushed batch
type Report struct {
	Hash     uint64
	Template string
	Size     int
	Trigger  Trigger
	Entry    payload.Entry
	Result   string
	Err      error
	Latency  time.Duration
}

// Config holds configuration for the scheduler
type Config struct {
	MaxBatchSize    int           // Flush a batch synchronously once it holds this many queries (100 default)
	Window          time.Duration // Flush every pending batch this often (10ms default)
	DryRun          bool          // Ask the kernel to roll back every batch
	UseMQO          bool          // Cached plan, single sub-transaction execution (default); false selects simple mode
	Entry           payload.Entry // Kernel entry point (dispatch default, debug only describes batches)
	AutoScanHint    bool          // Derive a shared scan target for every batch, not only hinted ones
	DispatchTimeout time.Duration // Bound on one kernel call (30s default), 0 disables

	// OnFlush receives a report for every flushed batch. It runs with the
	// scheduler lock held and must not call back into the scheduler.
	OnFlush func(Report)
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:    100,
		Window:          10 * time.Millisecond,
		UseMQO:          true,
		Entry:           payload.EntryDispatch,
		DispatchTimeout: 30 * time.Second,
	}
}

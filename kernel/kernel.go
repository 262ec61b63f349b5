package kernel

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fernwer/Duet/engine"
	"github.com/fernwer/Duet/metrics"
	"github.com/fernwer/Duet/payload"
	"github.com/lib/pq/oid"
)

// Engine is the storage engine the kernel executes batches against
type Engine interface {
	Preparer
	Execute(ctx context.Context, p *engine.Plan, args []any) (int64, error)
	Begin(ctx context.Context) (*engine.Tx, error)
	Column(ctx context.Context, table, column string) (engine.Column, error)
	AbortsOnError() bool
}

// Config holds the kernel settings
type Config struct {
	Driver        string
	DSN           string
	Engine        engine.Options
	PlanCacheSize int
	Eviction      EvictionPolicy
	ExecTimeout   time.Duration // bound on one batch execution, 0 disables
	TrimMemory    bool          // return freed memory to the OS after MQO batches
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Driver:        "postgres",
		PlanCacheSize: DefaultPlanCacheSize,
		ExecTimeout:   30 * time.Second,
	}
}

// Mode is the execution path a batch took
type Mode int

const (
	ModeSimple Mode = iota
	ModeMQO
	ModeSharedScan
)

func (m Mode) String() string {
	switch m {
	case ModeSimple:
		return "simple"
	case ModeMQO:
		return "mqo"
	case ModeSharedScan:
		return "shared_scan"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Outcome describes one executed batch
type Outcome struct {
	Mode             Mode
	Rows             int
	Succeeded        int // rows that executed, or would have under dry-run
	Skipped          int // rows whose parameter count did not match the plan
	Failed           int
	EncounteredError bool
	DryRun           bool
	Committed        bool
	Matches          int   // shared scan only
	RowErr           error // first row failure, if any
}

func (o Outcome) String() string {
	if o.Mode == ModeSharedScan {
		return fmt.Sprintf("mode=%s rows=%d matches=%d", o.Mode, o.Rows, o.Matches)
	}
	return fmt.Sprintf("mode=%s rows=%d succeeded=%d failed=%d skipped=%d dry_run=%t committed=%t",
		o.Mode, o.Rows, o.Succeeded, o.Failed, o.Skipped, o.DryRun, o.Committed)
}

// Kernel decodes batch payloads and executes them. Executions are
// serialized: rows of a batch share one transaction and one scratch buffer.
type Kernel struct {
	engine  Engine
	plans   *PlanCache
	config  Config
	closer  io.Closer
	mu      sync.Mutex
	scratch *scratch
}

// New creates a kernel executing against e
func New(e Engine, config Config) *Kernel {
	return &Kernel{
		engine: e,
		plans:  NewPlanCache(e, config.PlanCacheSize, config.Eviction),
		config: config,
	}
}

// Open connects to the configured engine and returns a kernel owning the
// connection. A failure here is process-fatal.
func Open(ctx context.Context, config Config) (*Kernel, error) {
	e, err := engine.Open(ctx, config.Driver, config.DSN, config.Engine)
	if err != nil {
		return nil, &Error{Severity: SeverityProcess, Op: "connect", Err: err}
	}
	k := New(e, config)
	k.closer = e
	return k, nil
}

// Plans returns the kernel's plan cache
func (k *Kernel) Plans() *PlanCache {
	return k.plans
}

// Close releases cached plans and, for kernels created by Open, the engine
func (k *Kernel) Close() error {
	k.plans.Shutdown()
	if k.closer != nil {
		return k.closer.Close()
	}
	return nil
}

// Dispatch decodes a hex payload and executes it
func (k *Kernel) Dispatch(ctx context.Context, hexPayload string) (Outcome, error) {
	p, err := payload.Decode(hexPayload)
	if err != nil {
		return Outcome{}, batchError("decode", err)
	}
	return k.Execute(ctx, p)
}

// Debug decodes a hex payload and describes it without executing anything
func (k *Kernel) Debug(hexPayload string) (string, error) {
	p, err := payload.Decode(hexPayload)
	if err != nil {
		return "", batchError("decode", err)
	}
	report := payload.Report(p)
	if types := ResolveArgTypes(p); len(types) > 0 {
		report += "\nArgTypes: " + typeList(types)
	}
	return report, nil
}

func typeList(types []oid.Oid) string {
	names := make([]string, len(types))
	for i, t := range types {
		if name, ok := oid.TypeName[t]; ok {
			names[i] = strings.ToLower(name)
		} else {
			names[i] = strconv.Itoa(int(t))
		}
	}
	return "[" + strings.Join(names, ", ") + "]"
}

// Call runs the named entry point. It is the in-process counterpart of a
// call through the transport.
func (k *Kernel) Call(ctx context.Context, entry payload.Entry, hexPayload string) (string, error) {
	switch entry {
	case payload.EntryDispatch:
		out, err := k.Dispatch(ctx, hexPayload)
		if err != nil {
			return "", err
		}
		return out.String(), nil
	case payload.EntryDebug:
		return k.Debug(hexPayload)
	}
	return "", batchError("call", fmt.Errorf("unknown entry point %q", entry))
}

// Execute runs one decoded batch: through a shared scan when it carries a
// scan hint, otherwise through the MQO or simple executor.
func (k *Kernel) Execute(ctx context.Context, p *payload.Payload) (Outcome, error) {
	if k.config.ExecTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.config.ExecTimeout)
		defer cancel()
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	var (
		out Outcome
		err error
	)
	switch {
	case p.HasScanHint():
		out, err = k.sharedScan(ctx, p)
	case p.UseMQO:
		out, err = k.executeMQO(ctx, p)
	default:
		out, err = k.executeSimple(ctx, p)
	}
	if err != nil {
		log.Printf("[Kernel] %s batch failed: %v", out.Mode, err)
		return out, err
	}

	metrics.KernelBatches.WithLabelValues(out.Mode.String(), strconv.FormatBool(out.Committed)).Inc()
	if out.Mode != ModeSharedScan {
		metrics.KernelRows.WithLabelValues(out.Mode.String(), "succeeded").Add(float64(out.Succeeded))
		metrics.KernelRows.WithLabelValues(out.Mode.String(), "failed").Add(float64(out.Failed))
		metrics.KernelRows.WithLabelValues(out.Mode.String(), "skipped").Add(float64(out.Skipped))
	}
	return out, nil
}

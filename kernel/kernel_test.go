package kernel

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fernwer/Duet/engine"
	"github.com/fernwer/Duet/payload"
	"github.com/lib/pq/oid"
)

// countingEngine counts Prepare calls reaching the engine
type countingEngine struct {
	*engine.Engine
	prepares int
}

func (c *countingEngine) Prepare(ctx context.Context, template string, argTypes []oid.Oid) (*engine.Plan, error) {
	c.prepares++
	return c.Engine.Prepare(ctx, template, argTypes)
}

func setupTestEngine(t *testing.T) *countingEngine {
	t.Helper()
	ctx := context.Background()
	e, err := engine.Open(ctx, "sqlite3", filepath.Join(t.TempDir(), "kernel.db"), engine.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })

	if err := e.ExecDDL(ctx, `CREATE TABLE items (
		id INTEGER PRIMARY KEY,
		name TEXT,
		price REAL,
		active BOOLEAN
	)`); err != nil {
		t.Fatal(err)
	}
	return &countingEngine{Engine: e}
}

func setupTestKernel(t *testing.T) (*Kernel, *countingEngine) {
	t.Helper()
	e := setupTestEngine(t)
	k := New(e, DefaultConfig())
	t.Cleanup(func() { k.Close() })
	return k, e
}

func count(t *testing.T, e *countingEngine, query string) int {
	t.Helper()
	var n int
	if err := e.DB().QueryRow(query).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func insertPayload(ids ...int64) *payload.Payload {
	p := &payload.Payload{
		TemplateSQL: "INSERT INTO items (id, name) VALUES ($1, $2)",
		UseMQO:      true,
		ParamTypes:  []string{"int8", "text"},
	}
	for _, id := range ids {
		p.Rows = append(p.Rows, payload.Row{payload.Int(id), payload.Text("item")})
	}
	return p
}

func dispatch(t *testing.T, k *Kernel, p *payload.Payload) Outcome {
	t.Helper()
	out, err := k.Dispatch(context.Background(), payload.Encode(p))
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	return out
}

func TestDispatch_MQOCommits(t *testing.T) {
	k, e := setupTestKernel(t)

	out := dispatch(t, k, insertPayload(1, 2, 3))
	if out.Mode != ModeMQO || out.Succeeded != 3 || !out.Committed || out.EncounteredError {
		t.Errorf("Unexpected outcome: %s", out)
	}
	if n := count(t, e, "SELECT COUNT(*) FROM items"); n != 3 {
		t.Errorf("Expected 3 rows, got %d", n)
	}
}

func TestDispatch_DryRunCommitsNothing(t *testing.T) {
	k, e := setupTestKernel(t)

	p := insertPayload(1, 2, 3)
	p.DryRun = true
	out := dispatch(t, k, p)
	if out.Succeeded != 3 {
		t.Errorf("Expected 3 rows to succeed in dry run, got %d", out.Succeeded)
	}
	if out.Committed {
		t.Error("Dry run must not commit")
	}
	if n := count(t, e, "SELECT COUNT(*) FROM items"); n != 0 {
		t.Errorf("Dry run persisted %d rows", n)
	}
}

func TestDispatch_OneFailingRowRollsBackBatch(t *testing.T) {
	k, e := setupTestKernel(t)

	// the second row with id 2 violates the primary key
	out := dispatch(t, k, insertPayload(1, 2, 2, 3))
	if out.Succeeded != 3 || out.Failed != 1 {
		t.Errorf("Expected 3 succeeded and 1 failed, got %s", out)
	}
	if !out.EncounteredError || out.Committed {
		t.Errorf("Expected a rolled back batch, got %s", out)
	}
	if SeverityOf(out.RowErr) != SeverityRow {
		t.Errorf("Expected a row level error, got %v", out.RowErr)
	}
	if n := count(t, e, "SELECT COUNT(*) FROM items"); n != 0 {
		t.Errorf("Expected no rows from the failed batch, got %d", n)
	}

	// the kernel keeps serving after a rolled back batch
	dispatch(t, k, insertPayload(4))
	if n := count(t, e, "SELECT COUNT(*) FROM items"); n != 1 {
		t.Errorf("Expected 1 row after the next batch, got %d", n)
	}
}

func TestDispatch_SkipsMismatchedRows(t *testing.T) {
	k, e := setupTestKernel(t)

	p := insertPayload(1, 2)
	p.Rows = append(p.Rows, payload.Row{payload.Int(3)})
	out := dispatch(t, k, p)
	if out.Skipped != 1 || out.Succeeded != 2 || !out.Committed {
		t.Errorf("Unexpected outcome: %s", out)
	}
	if n := count(t, e, "SELECT COUNT(*) FROM items"); n != 2 {
		t.Errorf("Expected 2 rows, got %d", n)
	}
}

func TestDispatch_BindFailure(t *testing.T) {
	k, e := setupTestKernel(t)

	p := insertPayload(1)
	p.Rows = append(p.Rows, payload.Row{payload.Text("not a number"), payload.Text("x")})
	out := dispatch(t, k, p)
	if out.Failed != 1 || out.Committed {
		t.Errorf("Unexpected outcome: %s", out)
	}
	if n := count(t, e, "SELECT COUNT(*) FROM items"); n != 0 {
		t.Errorf("Expected no rows, got %d", n)
	}
}

func TestDispatch_DeducesTypesWithoutHints(t *testing.T) {
	k, e := setupTestKernel(t)

	p := &payload.Payload{
		TemplateSQL: "INSERT INTO items (id, name, price, active) VALUES ($1, $2, $3, $4)",
		UseMQO:      true,
		Rows: []payload.Row{
			{payload.Int(1), payload.Text("a"), payload.Float(1.5), payload.Bool(true)},
			{payload.Int(2), payload.Null(), payload.Float(-2), payload.Bool(false)},
		},
	}
	out := dispatch(t, k, p)
	if out.Succeeded != 2 || !out.Committed {
		t.Errorf("Unexpected outcome: %s", out)
	}
	if n := count(t, e, "SELECT COUNT(*) FROM items WHERE name IS NULL AND price = -2"); n != 1 {
		t.Errorf("Expected the null row to persist, got %d", n)
	}
}

func TestDispatch_ReusesScratch(t *testing.T) {
	k, _ := setupTestKernel(t)

	dispatch(t, k, insertPayload(1, 2))
	sc := k.scratch
	if sc == nil {
		t.Fatal("Expected a scratch buffer after an MQO batch")
	}
	dispatch(t, k, insertPayload(3, 4, 5))
	if k.scratch != sc {
		t.Error("Scratch buffer was recreated between batches")
	}
	if sc.resets != 5 {
		t.Errorf("Expected 5 resets, got %d", sc.resets)
	}
	if len(sc.args) != 0 {
		t.Errorf("Scratch buffer not reset: %v", sc.args)
	}
}

func TestDispatch_Simple(t *testing.T) {
	k, e := setupTestKernel(t)

	p := &payload.Payload{
		TemplateSQL: "INSERT INTO items (id, price) VALUES ($1, $2)",
		Rows: []payload.Row{
			{payload.Int(1), payload.Int(10)},
			{payload.Text("2"), payload.Int(20)},
			{payload.Text("three"), payload.Int(30)},
		},
	}
	out := dispatch(t, k, p)
	if out.Mode != ModeSimple {
		t.Errorf("Expected simple mode, got %s", out.Mode)
	}
	if out.Succeeded != 2 || out.Failed != 1 {
		t.Errorf("Unexpected outcome: %s", out)
	}
	// rows run outside a transaction, so good rows persist
	if n := count(t, e, "SELECT COUNT(*) FROM items"); n != 2 {
		t.Errorf("Expected 2 rows, got %d", n)
	}
	if k.plans.Len() != 0 {
		t.Error("Simple mode must not cache plans")
	}
}

func TestDispatch_SimpleDryRun(t *testing.T) {
	k, e := setupTestKernel(t)

	p := &payload.Payload{
		TemplateSQL: "INSERT INTO items (id) VALUES ($1)",
		DryRun:      true,
		Rows:        []payload.Row{{payload.Int(1)}, {payload.Int(2)}},
	}
	out := dispatch(t, k, p)
	if out.Succeeded != 2 || out.Committed {
		t.Errorf("Unexpected outcome: %s", out)
	}
	if n := count(t, e, "SELECT COUNT(*) FROM items"); n != 0 {
		t.Errorf("Dry run persisted %d rows", n)
	}
}

func TestDispatch_EmptyBatch(t *testing.T) {
	k, _ := setupTestKernel(t)

	out := dispatch(t, k, &payload.Payload{TemplateSQL: "INSERT INTO items (id) VALUES ($1)", UseMQO: true})
	if out.Succeeded != 0 || out.Rows != 0 {
		t.Errorf("Unexpected outcome: %s", out)
	}
}

func TestDispatch_PrepareFailure(t *testing.T) {
	k, _ := setupTestKernel(t)

	p := insertPayload(1)
	p.TemplateSQL = "INSERT INTO missing (id, name) VALUES ($1, $2)"
	_, err := k.Dispatch(context.Background(), payload.Encode(p))
	if err == nil {
		t.Fatal("Expected a prepare error")
	}
	if SeverityOf(err) != SeverityBatch {
		t.Errorf("Expected a batch level error, got %v", err)
	}
}

func TestDispatch_Malformed(t *testing.T) {
	k, _ := setupTestKernel(t)

	for _, input := range []string{"", "zz", "0A05"} {
		_, err := k.Dispatch(context.Background(), input)
		if !errors.Is(err, payload.ErrMalformed) {
			t.Errorf("Dispatch(%q) = %v, want ErrMalformed", input, err)
		}
		if SeverityOf(err) != SeverityBatch {
			t.Errorf("Dispatch(%q) severity = %s", input, SeverityOf(err))
		}
	}
}

func TestDebug(t *testing.T) {
	k, e := setupTestKernel(t)

	p := insertPayload(1, 2)
	p.DryRun = true
	report, err := k.Debug(payload.Encode(p))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"SQL: INSERT INTO items (id, name) VALUES ($1, $2)",
		"Rows: 2",
		"DryRun: YES",
		"ScanHint: NONE",
		"ArgTypes: [int8, text]",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("Report missing %q:\n%s", want, report)
		}
	}
	if n := count(t, e, "SELECT COUNT(*) FROM items"); n != 0 {
		t.Errorf("Debug executed the batch")
	}
}

func TestCall(t *testing.T) {
	k, _ := setupTestKernel(t)
	ctx := context.Background()
	hex := payload.Encode(insertPayload(1))

	got, err := k.Call(ctx, payload.EntryDispatch, hex)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "succeeded=1") {
		t.Errorf("Call(dispatch) = %q", got)
	}

	got, err = k.Call(ctx, payload.EntryDebug, hex)
	if err != nil || !strings.HasPrefix(got, "SQL:") {
		t.Errorf("Call(debug) = %q, %v", got, err)
	}

	if _, err := k.Call(ctx, payload.Entry("mqo_other"), hex); err == nil {
		t.Error("Expected error for unknown entry point")
	}
}

func TestOpen_ProcessFatal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Driver = "sqlite3"
	cfg.DSN = filepath.Join(t.TempDir(), "missing", "kernel.db")
	_, err := Open(context.Background(), cfg)
	if SeverityOf(err) != SeverityProcess {
		t.Errorf("Expected a process level error, got %v", err)
	}
	if !errors.Is(err, engine.ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

package batch

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fernwer/Duet/engine"
	"github.com/fernwer/Duet/kernel"
	"github.com/fernwer/Duet/parser"
	"github.com/fernwer/Duet/payload"
	"github.com/google/go-cmp/cmp"
)

func TestParamValue(t *testing.T) {
	tests := []struct {
		param parser.QueryParam
		want  payload.Value
	}{
		{parser.QueryParam{Type: parser.ParamInteger, Value: "-42"}, payload.Int(-42)},
		{parser.QueryParam{Type: parser.ParamInteger, Value: "99999999999999999999"}, payload.Int(0)},
		{parser.QueryParam{Type: parser.ParamFloat, Value: "2.5"}, payload.Float(2.5)},
		{parser.QueryParam{Type: parser.ParamFloat, Value: "x"}, payload.Float(0)},
		{parser.QueryParam{Type: parser.ParamFloat, Value: "1e400"}, payload.Float(0)},
		{parser.QueryParam{Type: parser.ParamFloat, Value: "-1e400"}, payload.Float(0)},
		{parser.QueryParam{Type: parser.ParamBool, Value: "true"}, payload.Bool(true)},
		{parser.QueryParam{Type: parser.ParamBool, Value: "t"}, payload.Bool(true)},
		{parser.QueryParam{Type: parser.ParamBool, Value: "false"}, payload.Bool(false)},
		{parser.QueryParam{Type: parser.ParamNull, Value: "null"}, payload.Null()},
		{parser.QueryParam{Type: parser.ParamString, Value: "it's"}, payload.Text("it's")},
		{parser.QueryParam{Type: parser.ParamUnknown, Value: "?"}, payload.Text("?")},
	}
	for _, tt := range tests {
		if got := paramValue(tt.param); got != tt.want {
			t.Errorf("paramValue(%+v) = %+v, want %+v", tt.param, got, tt.want)
		}
	}
}

func TestEncodeBatch_ScanHint(t *testing.T) {
	f := parser.New(parser.PgQuery{})

	analyze := func(sql string) *QueryBatch {
		t.Helper()
		q, err := f.Analyze("r", sql)
		if err != nil {
			t.Fatal(err)
		}
		return &QueryBatch{Queries: []*parser.ParsedQuery{q}}
	}

	tests := []struct {
		name      string
		sql       string
		auto      bool
		wantTable string
		wantCol   string
	}{
		{"no hint", "SELECT * FROM items WHERE id = 1", false, "", ""},
		{"derived when automatic", "SELECT * FROM items WHERE id = 1", true, "items", "id"},
		{"bare hint derives target", "/* scan */ SELECT * FROM items WHERE id = 1", false, "items", "id"},
		{"explicit hint", "/* scan:orders.sku */ SELECT * FROM items WHERE id = 1", false, "orders", "sku"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.AutoScanHint = tt.auto
			p := encodeBatch(f, analyze(tt.sql), config)
			if p.ScanTable != tt.wantTable || p.ScanCol != tt.wantCol {
				t.Errorf("scan hint = %s.%s, want %s.%s", p.ScanTable, p.ScanCol, tt.wantTable, tt.wantCol)
			}
		})
	}
}

func TestEncodeBatch_TypeHints(t *testing.T) {
	f := parser.New(parser.PgQuery{})
	q, err := f.Analyze("r", "UPDATE items SET price = 1.5, active = true, name = NULL WHERE id = -3")
	if err != nil {
		t.Fatal(err)
	}
	p := encodeBatch(f, &QueryBatch{Queries: []*parser.ParsedQuery{q}}, DefaultConfig())

	if diff := cmp.Diff([]string{"float8", "bool", "text", "int8"}, p.ParamTypes); diff != "" {
		t.Errorf("ParamTypes mismatch (-want +got):\n%s", diff)
	}
	want := payload.Row{payload.Float(1.5), payload.Bool(true), payload.Null(), payload.Int(-3)}
	if diff := cmp.Diff([]payload.Row{want}, p.Rows); diff != "" {
		t.Errorf("Rows mismatch (-want +got):\n%s", diff)
	}
}

// TestScheduler_EndToEnd runs batches through an in-process kernel on sqlite
func TestScheduler_EndToEnd(t *testing.T) {
	ctx := context.Background()
	e, err := engine.Open(ctx, "sqlite3", filepath.Join(t.TempDir(), "batch.db"), engine.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if err := e.ExecDDL(ctx, "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatal(err)
	}

	k := kernel.New(e, kernel.DefaultConfig())
	defer k.Close()

	config := DefaultConfig()
	var reports []Report
	config.OnFlush = func(r Report) { reports = append(reports, r) }
	s, err := New(parser.New(parser.PgQuery{}), k, config)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	for _, q := range []string{
		"INSERT INTO items (id, name) VALUES (1, 'one')",
		"INSERT INTO items (id, name) VALUES (2, 'two')",
		"INSERT INTO items (id, name) VALUES (3, 'three')",
	} {
		if err := s.Submit("r", q); err != nil {
			t.Fatal(err)
		}
	}
	s.Flush()

	if len(reports) != 1 || reports[0].Err != nil {
		t.Fatalf("Expected one successful flush, got %+v", reports)
	}
	var n int
	if err := e.DB().QueryRow("SELECT COUNT(*) FROM items").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Expected 3 rows, got %d", n)
	}
	if k.Plans().Len() != 1 {
		t.Errorf("Expected one cached plan, got %d", k.Plans().Len())
	}
}

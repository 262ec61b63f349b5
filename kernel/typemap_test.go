package kernel

import (
	"math"
	"testing"

	"github.com/fernwer/Duet/payload"
	"github.com/google/go-cmp/cmp"
	"github.com/lib/pq/oid"
)

func TestResolveType(t *testing.T) {
	tests := map[string]oid.Oid{
		"int8":             oid.T_int8,
		"INT4":             oid.T_int4,
		"integer":          oid.T_int4,
		"bigint":           oid.T_int8,
		"float8":           oid.T_float8,
		"double precision": oid.T_float8,
		"bool":             oid.T_bool,
		"boolean":          oid.T_bool,
		" text ":           oid.T_text,
		"varchar":          oid.T_varchar,
		"numeric":          oid.T_numeric,
		"timestamptz":      oid.T_timestamptz,
		"no_such_type":     oid.T_text,
		"":                 oid.T_text,
	}
	for name, want := range tests {
		if got := ResolveType(name); got != want {
			t.Errorf("ResolveType(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestResolveArgTypes(t *testing.T) {
	row := payload.Row{payload.Int(1), payload.Float(2), payload.Text("x"), payload.Bool(true), payload.Null()}
	deduced := []oid.Oid{oid.T_int8, oid.T_float8, oid.T_text, oid.T_bool, oid.T_text}

	tests := []struct {
		name  string
		hints []string
		rows  []payload.Row
		want  []oid.Oid
	}{
		{"deduced", nil, []payload.Row{row}, deduced},
		{"hints", []string{"int4", "numeric", "varchar", "bool", "int8"}, []payload.Row{row},
			[]oid.Oid{oid.T_int4, oid.T_numeric, oid.T_varchar, oid.T_bool, oid.T_int8}},
		{"hint count mismatch", []string{"int4"}, []payload.Row{row}, deduced},
		{"no rows", []string{"int4"}, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveArgTypes(&payload.Payload{ParamTypes: tt.hints, Rows: tt.rows})
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ResolveArgTypes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBind(t *testing.T) {
	tests := []struct {
		name    string
		value   payload.Value
		target  oid.Oid
		want    any
		wantErr bool
	}{
		{"int to int8", payload.Int(-7), oid.T_int8, int64(-7), false},
		{"integral float to int8", payload.Float(3), oid.T_int8, int64(3), false},
		{"fractional float to int8", payload.Float(3.5), oid.T_int8, nil, true},
		{"text to int4", payload.Text(" 42 "), oid.T_int4, int64(42), false},
		{"bad text to int8", payload.Text("abc"), oid.T_int8, nil, true},
		{"bool to int8", payload.Bool(true), oid.T_int8, int64(1), false},
		{"int to float8", payload.Int(2), oid.T_float8, float64(2), false},
		{"text to float8", payload.Text("1.25"), oid.T_float8, 1.25, false},
		{"bool to float8", payload.Bool(true), oid.T_float8, nil, true},
		{"text to bool", payload.Text("t"), oid.T_bool, true, false},
		{"int to bool", payload.Int(0), oid.T_bool, false, false},
		{"int to text", payload.Int(12), oid.T_text, "12", false},
		{"float to varchar", payload.Float(0.5), oid.T_varchar, "0.5", false},
		{"bool to text", payload.Bool(false), oid.T_text, "false", false},
		{"text to bytea", payload.Text("ab"), oid.T_bytea, []byte("ab"), false},
		{"null", payload.Null(), oid.T_int8, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bind(tt.value, tt.target)
			if (err != nil) != tt.wantErr {
				t.Fatalf("bind() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("bind() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDatumEqual(t *testing.T) {
	mustDatum := func(x any, typ oid.Oid) datum {
		t.Helper()
		d, err := toDatum(x, typ)
		if err != nil {
			t.Fatal(err)
		}
		return d
	}

	if !datumEqual(mustDatum(int64(5), oid.T_int8), mustDatum("5", oid.T_int8), true) {
		t.Error("int8 5 should equal text 5 converted to int8")
	}
	if !datumEqual(mustDatum(0.0, oid.T_float8), mustDatum(math.Copysign(0, -1), oid.T_float8), true) {
		t.Error("0 should equal -0")
	}
	if datumEqual(mustDatum("a", oid.T_text), mustDatum("A", oid.T_text), false) {
		t.Error("text comparison must be exact")
	}
	if !datumEqual(mustDatum([]byte("abc"), oid.T_text), mustDatum("abc", oid.T_text), false) {
		t.Error("driver bytes should equal the same text")
	}
	if datumEqual(mustDatum(nil, oid.T_int8), mustDatum(nil, oid.T_int8), true) {
		t.Error("null never equals null")
	}
}

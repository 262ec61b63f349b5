package kernel

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fernwer/Duet/payload"
	"github.com/lib/pq/oid"
)

var typeByName = func() map[string]oid.Oid {
	m := make(map[string]oid.Oid, len(oid.TypeName)+16)
	for t, name := range oid.TypeName {
		m[strings.ToLower(name)] = t
	}
	aliases := map[string]oid.Oid{
		"smallint":                    oid.T_int2,
		"int":                         oid.T_int4,
		"integer":                     oid.T_int4,
		"bigint":                      oid.T_int8,
		"real":                        oid.T_float4,
		"double":                      oid.T_float8,
		"double precision":            oid.T_float8,
		"boolean":                     oid.T_bool,
		"decimal":                     oid.T_numeric,
		"character varying":           oid.T_varchar,
		"character":                   oid.T_bpchar,
		"string":                      oid.T_text,
		"timestamp with time zone":    oid.T_timestamptz,
		"timestamp without time zone": oid.T_timestamp,
	}
	for name, t := range aliases {
		m[name] = t
	}
	return m
}()

// ResolveType maps an engine type name to its identifier. Unknown names
// resolve to text.
func ResolveType(name string) oid.Oid {
	if t, ok := typeByName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return t
	}
	return oid.T_text
}

// DeduceType infers the argument type of a value from its kind
func DeduceType(v payload.Value) oid.Oid {
	switch v.Kind {
	case payload.KindInt:
		return oid.T_int8
	case payload.KindFloat:
		return oid.T_float8
	case payload.KindBool:
		return oid.T_bool
	default:
		return oid.T_text
	}
}

// ResolveArgTypes picks the plan argument types of a batch: the type hints
// when there is exactly one per value of the first row, otherwise types
// deduced from the first row.
func ResolveArgTypes(p *payload.Payload) []oid.Oid {
	if len(p.Rows) == 0 {
		return nil
	}
	first := p.Rows[0]
	types := make([]oid.Oid, len(first))
	if len(p.ParamTypes) == len(first) {
		for i, name := range p.ParamTypes {
			types[i] = ResolveType(name)
		}
		return types
	}
	for i, v := range first {
		types[i] = DeduceType(v)
	}
	return types
}

type category int

const (
	categoryText category = iota
	categoryInt
	categoryFloat
	categoryBool
	categoryBytes
)

func categoryOf(t oid.Oid) category {
	switch t {
	case oid.T_int2, oid.T_int4, oid.T_int8, oid.T_oid:
		return categoryInt
	case oid.T_float4, oid.T_float8:
		return categoryFloat
	case oid.T_bool:
		return categoryBool
	case oid.T_bytea:
		return categoryBytes
	default:
		return categoryText
	}
}

// fixedWidth reports whether values of t are compared through their
// fixed-width word rather than their bytes.
func fixedWidth(t oid.Oid) bool {
	c := categoryOf(t)
	return c == categoryInt || c == categoryFloat || c == categoryBool
}

// bind converts v into a driver argument of type target. Null binds as nil.
func bind(v payload.Value, target oid.Oid) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	switch categoryOf(target) {
	case categoryInt:
		return asInt(valueAny(v))
	case categoryFloat:
		return asFloat(valueAny(v))
	case categoryBool:
		return asBool(valueAny(v))
	case categoryBytes:
		return []byte(asText(valueAny(v))), nil
	default:
		return asText(valueAny(v)), nil
	}
}

func valueAny(v payload.Value) any {
	switch v.Kind {
	case payload.KindInt:
		return v.Int
	case payload.KindFloat:
		return v.Float
	case payload.KindText:
		return v.Text
	case payload.KindBool:
		return v.Bool
	default:
		return nil
	}
}

func asInt(x any) (int64, error) {
	switch v := x.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("cannot convert %v to integer", v)
		}
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to integer", x)
}

func asFloat(x any) (float64, error) {
	switch v := x.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
	}
	return 0, fmt.Errorf("cannot convert %T to float", x)
}

func asBool(x any) (bool, error) {
	switch v := x.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(v))
	case []byte:
		return strconv.ParseBool(strings.TrimSpace(string(v)))
	}
	return false, fmt.Errorf("cannot convert %T to bool", x)
}

func asText(x any) string {
	switch v := x.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		if v.Equal(v.Truncate(24*time.Hour)) && v.Location() == time.UTC {
			return v.Format("2006-01-02")
		}
		return v.Format(time.RFC3339Nano)
	}
	return fmt.Sprint(x)
}

// datum is a comparable value of a known type: fixed-width types compare
// by word, everything else by bytes.
type datum struct {
	null  bool
	word  uint64
	bytes []byte
}

// toDatum converts a driver value (or a bound argument) into a datum of type t.
func toDatum(x any, t oid.Oid) (datum, error) {
	if x == nil {
		return datum{null: true}, nil
	}
	switch categoryOf(t) {
	case categoryInt:
		n, err := asInt(x)
		return datum{word: uint64(n)}, err
	case categoryFloat:
		f, err := asFloat(x)
		if f == 0 {
			f = 0 // fold -0
		}
		return datum{word: math.Float64bits(f)}, err
	case categoryBool:
		b, err := asBool(x)
		if b {
			return datum{word: 1}, err
		}
		return datum{}, err
	default:
		return datum{bytes: []byte(asText(x))}, nil
	}
}

// valueDatum converts a payload value into a datum of type t
func valueDatum(v payload.Value, t oid.Oid) (datum, error) {
	x, err := bind(v, t)
	if err != nil {
		return datum{}, err
	}
	return toDatum(x, t)
}

func datumEqual(a, b datum, byValue bool) bool {
	if a.null || b.null {
		return false
	}
	if byValue {
		return a.word == b.word
	}
	return bytes.Equal(a.bytes, b.bytes)
}

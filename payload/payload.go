// Package payload implements the batch message exchanged between the
// scheduler and the kernel: a protobuf-compatible binary encoding carried as
// one hex string.
package payload

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned for payloads that cannot be decoded
var ErrMalformed = errors.New("malformed batch payload")

// Row holds the parameter values of one original query
type Row []Value

// Payload is one flushed batch as seen by the kernel
type Payload struct {
	TemplateSQL string
	UseMQO      bool
	DryRun      bool
	ScanTable   string // Optional, together with ScanCol selects the shared scan
	ScanCol     string
	ParamTypes  []string // Optional engine type names, one per parameter position
	Rows        []Row
}

// HasScanHint reports whether the payload asks for a shared scan
func (p *Payload) HasScanHint() bool {
	return p.ScanTable != "" && p.ScanCol != ""
}

// BatchPayload fields
const (
	fieldTemplateSQL protowire.Number = 1
	fieldUseMQO      protowire.Number = 2
	fieldDryRun      protowire.Number = 3
	fieldScanTable   protowire.Number = 4
	fieldScanCol     protowire.Number = 5
	fieldParamTypes  protowire.Number = 6
	fieldRows        protowire.Number = 7
)

// ParamRow fields
const fieldValues protowire.Number = 1

// Value fields
const (
	fieldIsNull   protowire.Number = 1
	fieldIntVal   protowire.Number = 2
	fieldFloatVal protowire.Number = 3
	fieldTextVal  protowire.Number = 4
	fieldBoolVal  protowire.Number = 5
)

// Marshal encodes p in protobuf wire format
func Marshal(p *Payload) []byte {
	var b []byte
	b = appendString(b, fieldTemplateSQL, p.TemplateSQL)
	b = appendBool(b, fieldUseMQO, p.UseMQO)
	b = appendBool(b, fieldDryRun, p.DryRun)
	b = appendString(b, fieldScanTable, p.ScanTable)
	b = appendString(b, fieldScanCol, p.ScanCol)
	for _, t := range p.ParamTypes {
		b = protowire.AppendTag(b, fieldParamTypes, protowire.BytesType)
		b = protowire.AppendString(b, t)
	}
	for _, row := range p.Rows {
		b = protowire.AppendTag(b, fieldRows, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalRow(row))
	}
	return b
}

func marshalRow(row Row) []byte {
	var b []byte
	for _, v := range row {
		b = protowire.AppendTag(b, fieldValues, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalValue(v))
	}
	return b
}

func marshalValue(v Value) []byte {
	var b []byte
	switch v.Kind {
	case KindInt:
		b = protowire.AppendTag(b, fieldIntVal, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.Int))
	case KindFloat:
		b = protowire.AppendTag(b, fieldFloatVal, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v.Float))
	case KindText:
		b = protowire.AppendTag(b, fieldTextVal, protowire.BytesType)
		b = protowire.AppendString(b, v.Text)
	case KindBool:
		b = protowire.AppendTag(b, fieldBoolVal, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(v.Bool))
	default:
		b = appendBool(b, fieldIsNull, true)
	}
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

// Unmarshal decodes a payload. Unknown fields are skipped, truncated or
// mistyped fields fail the whole payload.
func Unmarshal(b []byte) (*Payload, error) {
	p := &Payload{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, field []byte) (int, error) {
		switch num {
		case fieldTemplateSQL:
			return consumeString(typ, field, &p.TemplateSQL)
		case fieldUseMQO:
			return consumeBool(typ, field, &p.UseMQO)
		case fieldDryRun:
			return consumeBool(typ, field, &p.DryRun)
		case fieldScanTable:
			return consumeString(typ, field, &p.ScanTable)
		case fieldScanCol:
			return consumeString(typ, field, &p.ScanCol)
		case fieldParamTypes:
			var s string
			n, err := consumeString(typ, field, &s)
			if err == nil {
				p.ParamTypes = append(p.ParamTypes, s)
			}
			return n, err
		case fieldRows:
			raw, n, err := consumeBytes(typ, field)
			if err != nil {
				return n, err
			}
			row, err := unmarshalRow(raw)
			if err != nil {
				return n, err
			}
			p.Rows = append(p.Rows, row)
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func unmarshalRow(b []byte) (Row, error) {
	row := Row{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, field []byte) (int, error) {
		if num != fieldValues {
			return -1, nil
		}
		raw, n, err := consumeBytes(typ, field)
		if err != nil {
			return n, err
		}
		v, err := unmarshalValue(raw)
		if err != nil {
			return n, err
		}
		row = append(row, v)
		return n, nil
	})
	return row, err
}

func unmarshalValue(b []byte) (Value, error) {
	v := Null()
	isNull := false
	err := walk(b, func(num protowire.Number, typ protowire.Type, field []byte) (int, error) {
		switch num {
		case fieldIsNull:
			return consumeBool(typ, field, &isNull)
		case fieldIntVal:
			if typ != protowire.VarintType {
				return 0, wireTypeError(typ)
			}
			x, n := protowire.ConsumeVarint(field)
			if n < 0 {
				return n, protowire.ParseError(n)
			}
			v = Int(int64(x))
			return n, nil
		case fieldFloatVal:
			if typ != protowire.Fixed64Type {
				return 0, wireTypeError(typ)
			}
			x, n := protowire.ConsumeFixed64(field)
			if n < 0 {
				return n, protowire.ParseError(n)
			}
			v = Float(math.Float64frombits(x))
			return n, nil
		case fieldTextVal:
			var s string
			n, err := consumeString(typ, field, &s)
			if err == nil {
				v = Text(s)
			}
			return n, err
		case fieldBoolVal:
			var x bool
			n, err := consumeBool(typ, field, &x)
			if err == nil {
				v = Bool(x)
			}
			return n, err
		}
		return -1, nil
	})
	if err != nil {
		return Value{}, err
	}
	if isNull {
		return Null(), nil
	}
	return v, nil
}

// walk iterates over the fields of a message. fn returns the number of
// bytes it consumed, or -1 to skip the field as unknown.
func walk(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		n, err := fn(num, typ, b)
		if errors.Is(err, ErrMalformed) {
			return err
		}
		if err != nil {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, err)
		}
		if n < 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	return nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, wireTypeError(typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, n, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	v, n, err := consumeBytes(typ, b)
	if err != nil {
		return n, err
	}
	*dst = string(v)
	return n, nil
}

func consumeBool(typ protowire.Type, b []byte, dst *bool) (int, error) {
	if typ != protowire.VarintType {
		return 0, wireTypeError(typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return n, protowire.ParseError(n)
	}
	*dst = protowire.DecodeBool(v)
	return n, nil
}

func wireTypeError(typ protowire.Type) error {
	return fmt.Errorf("unexpected wire type %d", typ)
}

// Encode marshals p and hex encodes the result for transport
func Encode(p *Payload) string {
	return strings.ToUpper(hex.EncodeToString(Marshal(p)))
}

// Decode reverses Encode. A leading \x (PostgreSQL bytea notation) is accepted.
func Decode(s string) (*Payload, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), `\x`)
	if s == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Unmarshal(raw)
}

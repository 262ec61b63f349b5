package batch

import (
	"log"
	"strconv"

	"github.com/fernwer/Duet/parser"
	"github.com/fernwer/Duet/payload"
)

// encodeBatch builds the kernel payload of b. The template and the type
// hints come from the first query; every query contributes one row.
func encodeBatch(f *parser.Fingerprinter, b *QueryBatch, config Config) *payload.Payload {
	first := b.Queries[0]

	template, err := f.Normalize(first.OriginalSQL)
	if err != nil {
		log.Printf("[Scheduler] Warning: normalize failed, sending original SQL: %v", err)
		template = first.OriginalSQL
	}

	p := &payload.Payload{
		TemplateSQL: template,
		UseMQO:      config.UseMQO,
		DryRun:      config.DryRun,
		ParamTypes:  make([]string, len(first.Params)),
		Rows:        make([]payload.Row, 0, len(b.Queries)),
	}

	hint := first.ScanHint
	if hint.IsZero() && config.AutoScanHint {
		hint, _ = parser.DeriveScanHint(first.OriginalSQL)
	}
	if !hint.IsZero() {
		p.ScanTable = hint.Table
		p.ScanCol = hint.Column
	}

	for i, param := range first.Params {
		p.ParamTypes[i] = paramTypeName(param.Type)
	}
	for _, q := range b.Queries {
		row := make(payload.Row, len(q.Params))
		for i, param := range q.Params {
			row[i] = paramValue(param)
		}
		p.Rows = append(p.Rows, row)
	}
	return p
}

func paramTypeName(t parser.ParamType) string {
	switch t {
	case parser.ParamInteger:
		return "int8"
	case parser.ParamFloat:
		return "float8"
	case parser.ParamBool:
		return "bool"
	default:
		return "text"
	}
}

// paramValue converts an extracted literal into a typed value. Numbers
// that do not parse or overflow become zero.
func paramValue(p parser.QueryParam) payload.Value {
	switch p.Type {
	case parser.ParamInteger:
		n, err := strconv.ParseInt(p.Value, 10, 64)
		if err != nil {
			return payload.Int(0)
		}
		return payload.Int(n)
	case parser.ParamFloat:
		f, err := strconv.ParseFloat(p.Value, 64)
		if err != nil {
			return payload.Float(0)
		}
		return payload.Float(f)
	case parser.ParamBool:
		return payload.Bool(p.Value == "true" || p.Value == "t")
	case parser.ParamNull:
		return payload.Null()
	default:
		return payload.Text(p.Value)
	}
}

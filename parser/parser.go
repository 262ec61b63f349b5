package parser

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSyntax is returned when the lexer cannot fingerprint or tokenize a query
var ErrSyntax = errors.New("sql syntax error")

// QueryType represents the type of SQL query
type QueryType int

const (
	QueryUnknown QueryType = iota
	QuerySelect
	QueryInsert
	QueryUpdate
	QueryDelete
)

func (t QueryType) String() string {
	switch t {
	case QuerySelect:
		return "select"
	case QueryInsert:
		return "insert"
	case QueryUpdate:
		return "update"
	case QueryDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ParamType is the inferred type of an extracted literal
type ParamType int

const (
	ParamInteger ParamType = iota
	ParamFloat
	ParamString
	ParamBool
	ParamNull
	ParamUnknown
)

func (t ParamType) String() string {
	switch t {
	case ParamInteger:
		return "integer"
	case ParamFloat:
		return "float"
	case ParamString:
		return "string"
	case ParamBool:
		return "bool"
	case ParamNull:
		return "null"
	default:
		return "unknown"
	}
}

// QueryParam is one literal extracted from a query, stored as text
type QueryParam struct {
	Type  ParamType
	Value string
}

// ParsedQuery contains extracted information from a SQL query. It is not
// modified after Analyze returns it.
type ParsedQuery struct {
	RequestID       string
	OriginalSQL     string
	Fingerprint     string
	FingerprintHash uint64
	Params          []QueryParam
	ArrivedAt       time.Time
	Type            QueryType
	ScanHint        ScanHint // Zero unless the query carries a /* scan */ hint
}

// Fingerprinter turns raw SQL into ParsedQuery values. It holds no state
// besides its lexer and is safe for concurrent use.
type Fingerprinter struct {
	lexer Lexer
	now   func() time.Time
}

// New creates a Fingerprinter on top of the given lexer
func New(lexer Lexer) *Fingerprinter {
	return &Fingerprinter{lexer: lexer, now: time.Now}
}

// Analyze fingerprints sql and extracts its literal parameters in order.
func (f *Fingerprinter) Analyze(requestID, sql string) (*ParsedQuery, error) {
	arrived := f.now()

	fp, hash, err := f.lexer.Fingerprint(sql)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	tokens, err := f.lexer.Scan(sql)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	params, err := extractParams(sql, tokens)
	if err != nil {
		return nil, err
	}

	p := &ParsedQuery{
		RequestID:       requestID,
		OriginalSQL:     sql,
		Fingerprint:     fp,
		FingerprintHash: hash,
		Params:          params,
		ArrivedAt:       arrived,
		Type:            queryType(sql),
	}
	if hint, ok := ParseScanHint(sql); ok {
		p.ScanHint = hint
	}
	return p, nil
}

// Normalize returns the placeholder template of sql
func (f *Fingerprinter) Normalize(sql string) (string, error) {
	return f.lexer.Normalize(sql)
}

func extractParams(sql string, tokens []Token) ([]QueryParam, error) {
	params := make([]QueryParam, 0, len(tokens)/4)
	for i, tok := range tokens {
		if tok.Kind == TokenOther || tok.Kind == TokenMinus {
			continue
		}
		if tok.Start < 0 || tok.End > len(sql) || tok.Start > tok.End {
			return nil, fmt.Errorf("%w: token out of range [%d:%d]", ErrSyntax, tok.Start, tok.End)
		}
		text := sql[tok.Start:tok.End]

		var p QueryParam
		switch tok.Kind {
		case TokenInteger, TokenFloat:
			p.Type = ParamInteger
			if tok.Kind == TokenFloat {
				p.Type = ParamFloat
			}
			// "-5" scans as two tokens; fold them when nothing separates them
			if i > 0 && tokens[i-1].Kind == TokenMinus && tokens[i-1].End == tok.Start {
				text = "-" + text
			}
			p.Value = text
		case TokenString:
			p.Type = ParamString
			if len(text) >= 2 {
				p.Value = strings.ReplaceAll(text[1:len(text)-1], "''", "'")
			}
		case TokenBitString, TokenHexString:
			p.Type = ParamString
			p.Value = text
		case TokenTrue:
			p.Type, p.Value = ParamBool, "true"
		case TokenFalse:
			p.Type, p.Value = ParamBool, "false"
		case TokenNull:
			p.Type, p.Value = ParamNull, "null"
		default:
			continue
		}
		params = append(params, p)
	}
	return params, nil
}

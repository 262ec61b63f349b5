package parser

import (
	"regexp"
	"strings"
)

// ScanHint names the table and column a batch of equality lookups can be
// answered from with one sequential scan.
type ScanHint struct {
	Table  string
	Column string
}

// IsZero reports whether the hint names no scan target.
func (h ScanHint) IsZero() bool {
	return h.Table == "" || h.Column == ""
}

var (
	// Match /* scan */ or /* scan:table.column */
	scanHintRegex = regexp.MustCompile(`/\*\s*scan(?::([a-zA-Z0-9_$]+)\.([a-zA-Z0-9_$]+))?\s*\*/`)
	// Match the lookup shape "FROM <table> WHERE <column> ="
	scanTargetRegex = regexp.MustCompile(`(?i)\bFROM\s+([a-zA-Z0-9_]+)\s+WHERE\s+([a-zA-Z0-9_]+)\s*=`)
	// Match query type (allows comments before keyword)
	queryTypeRegex = regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE)\b`)
)

// ParseScanHint extracts an explicit scan hint comment. A bare /* scan */
// takes its target from the statement itself.
func ParseScanHint(sql string) (ScanHint, bool) {
	matches := scanHintRegex.FindStringSubmatch(sql)
	if matches == nil {
		return ScanHint{}, false
	}
	if matches[1] != "" && matches[2] != "" {
		return ScanHint{Table: matches[1], Column: matches[2]}, true
	}
	return DeriveScanHint(sql)
}

// DeriveScanHint guesses the scan target of a single-table equality lookup.
func DeriveScanHint(sql string) (ScanHint, bool) {
	matches := scanTargetRegex.FindStringSubmatch(sql)
	if matches == nil {
		return ScanHint{}, false
	}
	return ScanHint{Table: matches[1], Column: matches[2]}, true
}

func queryType(sql string) QueryType {
	matches := queryTypeRegex.FindStringSubmatch(sql)
	if matches == nil {
		return QueryUnknown
	}
	switch strings.ToUpper(matches[1]) {
	case "SELECT":
		return QuerySelect
	case "INSERT":
		return QueryInsert
	case "UPDATE":
		return QueryUpdate
	case "DELETE":
		return QueryDelete
	}
	return QueryUnknown
}

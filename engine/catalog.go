package engine

import (
	"strings"

	"github.com/lib/pq/oid"
)

// Column describes a table column as resolved against the engine catalog
type Column struct {
	Relation string  // Table reference ready to be used in SQL text
	Name     string  // Column name as stored in the catalog
	Type     oid.Oid // PostgreSQL type identifier, mapped for other engines
	Len      int16   // Storage width in bytes, -1 for variable length
	ByValue  bool    // Whether values are passed by value
}

// TypeLayout returns the storage width and by-value flag of a type.
func TypeLayout(t oid.Oid) (int16, bool) {
	switch t {
	case oid.T_bool, oid.T_char:
		return 1, true
	case oid.T_int2:
		return 2, true
	case oid.T_int4, oid.T_oid, oid.T_float4, oid.T_date:
		return 4, true
	case oid.T_int8, oid.T_float8, oid.T_timestamp, oid.T_timestamptz:
		return 8, true
	default:
		return -1, false
	}
}

// affinityType maps a declared SQLite column type to a type identifier
// following the SQLite affinity rules, with booleans recognized separately.
func affinityType(decl string) oid.Oid {
	d := strings.ToUpper(decl)
	switch {
	case strings.Contains(d, "BOOL"):
		return oid.T_bool
	case strings.Contains(d, "INT"):
		return oid.T_int8
	case strings.Contains(d, "CHAR"), strings.Contains(d, "CLOB"), strings.Contains(d, "TEXT"), d == "":
		return oid.T_text
	case strings.Contains(d, "BLOB"):
		return oid.T_bytea
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"):
		return oid.T_float8
	default:
		return oid.T_numeric
	}
}

// mysqlType maps an information_schema DATA_TYPE to a type identifier
func mysqlType(dataType string) oid.Oid {
	switch strings.ToLower(dataType) {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint", "year":
		return oid.T_int8
	case "float", "double", "real":
		return oid.T_float8
	case "decimal", "numeric":
		return oid.T_numeric
	case "bit", "bool", "boolean":
		return oid.T_bool
	case "binary", "varbinary", "blob", "tinyblob", "mediumblob", "longblob":
		return oid.T_bytea
	default:
		return oid.T_text
	}
}

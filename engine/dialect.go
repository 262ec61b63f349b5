package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/lib/pq/oid"
	_ "github.com/mattn/go-sqlite3"
)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dialect captures the per-engine differences the kernel depends on
type dialect interface {
	// rebind turns a $n template into the engine's placeholder syntax
	rebind(query string) (string, error)
	quoteIdent(name string) string
	// abortsOnError reports whether a failed statement poisons the
	// enclosing transaction until a rollback to savepoint
	abortsOnError() bool
	column(ctx context.Context, q querier, table, column string) (Column, error)
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "postgres":
		return postgresDialect{}, nil
	case "mysql":
		return mysqlDialect{}, nil
	case "sqlite3":
		return sqliteDialect{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
}

type postgresDialect struct{}

func (postgresDialect) rebind(query string) (string, error) { return query, nil }
func (postgresDialect) quoteIdent(name string) string       { return pq.QuoteIdentifier(name) }
func (postgresDialect) abortsOnError() bool                  { return true }

func (postgresDialect) column(ctx context.Context, q querier, table, column string) (Column, error) {
	var relation sql.NullString
	if err := q.QueryRowContext(ctx, "SELECT to_regclass($1)::text", table).Scan(&relation); err != nil {
		return Column{}, err
	}
	if !relation.Valid {
		return Column{}, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	c := Column{Relation: relation.String}
	var typ uint32
	err := q.QueryRowContext(ctx, `SELECT a.attname, a.atttypid, t.typlen, t.typbyval
		FROM pg_attribute a JOIN pg_type t ON t.oid = a.atttypid
		WHERE a.attrelid = to_regclass($1) AND lower(a.attname) = lower($2)
		AND a.attnum > 0 AND NOT a.attisdropped
		LIMIT 1`, table, column).Scan(&c.Name, &typ, &c.Len, &c.ByValue)
	if errors.Is(err, sql.ErrNoRows) {
		return Column{}, fmt.Errorf("%w: %s.%s", ErrColumnNotFound, table, column)
	}
	if err != nil {
		return Column{}, err
	}
	c.Type = oid.Oid(typ)
	return c, nil
}

type mysqlDialect struct{}

func (mysqlDialect) rebind(query string) (string, error) { return rebindQuestion(query) }
func (mysqlDialect) abortsOnError() bool                  { return false }

func (mysqlDialect) quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d mysqlDialect) column(ctx context.Context, q querier, table, column string) (Column, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?`, table).Scan(&n)
	if err != nil {
		return Column{}, err
	}
	if n == 0 {
		return Column{}, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	c := Column{Relation: d.quoteIdent(table)}
	var dataType string
	err = q.QueryRowContext(ctx, `SELECT COLUMN_NAME, DATA_TYPE FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?`, table, column).Scan(&c.Name, &dataType)
	if errors.Is(err, sql.ErrNoRows) {
		return Column{}, fmt.Errorf("%w: %s.%s", ErrColumnNotFound, table, column)
	}
	if err != nil {
		return Column{}, err
	}
	c.Type = mysqlType(dataType)
	c.Len, c.ByValue = TypeLayout(c.Type)
	return c, nil
}

type sqliteDialect struct{}

func (sqliteDialect) rebind(query string) (string, error) { return query, nil }
func (sqliteDialect) abortsOnError() bool                  { return false }

func (sqliteDialect) quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d sqliteDialect) column(ctx context.Context, q querier, table, column string) (Column, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master
		WHERE type IN ('table', 'view') AND name = ? COLLATE NOCASE`, table).Scan(&n)
	if err != nil {
		return Column{}, err
	}
	if n == 0 {
		return Column{}, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	c := Column{Relation: d.quoteIdent(table)}
	var decl string
	err = q.QueryRowContext(ctx, `SELECT name, type FROM pragma_table_info(?)
		WHERE name = ? COLLATE NOCASE`, table, column).Scan(&c.Name, &decl)
	if errors.Is(err, sql.ErrNoRows) {
		return Column{}, fmt.Errorf("%w: %s.%s", ErrColumnNotFound, table, column)
	}
	if err != nil {
		return Column{}, err
	}
	c.Type = affinityType(decl)
	c.Len, c.ByValue = TypeLayout(c.Type)
	return c, nil
}

package parser

import (
	"strconv"

	pg_query "github.com/pganalyze/pg_query_go/v5"
)

// PgQuery is the Lexer backed by libpg_query, i.e. the PostgreSQL scanner
// and parser.
type PgQuery struct{}

// Fingerprint returns the hex fingerprint and its numeric value.
func (PgQuery) Fingerprint(sql string) (string, uint64, error) {
	fp, err := pg_query.Fingerprint(sql)
	if err != nil {
		return "", 0, err
	}
	hash, err := strconv.ParseUint(fp, 16, 64)
	if err != nil {
		return "", 0, err
	}
	return fp, hash, nil
}

// Scan tokenizes sql with the PostgreSQL scanner.
func (PgQuery) Scan(sql string) ([]Token, error) {
	result, err := pg_query.Scan(sql)
	if err != nil {
		return nil, err
	}
	tokens := make([]Token, 0, len(result.Tokens))
	for _, t := range result.Tokens {
		tokens = append(tokens, Token{
			Kind:  tokenKind(t.Token),
			Start: int(t.Start),
			End:   int(t.End),
		})
	}
	return tokens, nil
}

// Normalize replaces constants with $n placeholders.
func (PgQuery) Normalize(sql string) (string, error) {
	return pg_query.Normalize(sql)
}

func tokenKind(t pg_query.Token) TokenKind {
	switch t {
	case pg_query.Token_ASCII_45: // "-"
		return TokenMinus
	case pg_query.Token_ICONST:
		return TokenInteger
	case pg_query.Token_FCONST:
		return TokenFloat
	case pg_query.Token_SCONST:
		return TokenString
	case pg_query.Token_BCONST:
		return TokenBitString
	case pg_query.Token_XCONST:
		return TokenHexString
	case pg_query.Token_TRUE_P:
		return TokenTrue
	case pg_query.Token_FALSE_P:
		return TokenFalse
	case pg_query.Token_NULL_P:
		return TokenNull
	default:
		return TokenOther
	}
}

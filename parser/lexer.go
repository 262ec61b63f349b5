package parser

// TokenKind classifies the tokens the Fingerprinter cares about. Everything
// else is TokenOther.
type TokenKind int

const (
	TokenOther TokenKind = iota
	TokenMinus
	TokenInteger
	TokenFloat
	TokenString
	TokenBitString
	TokenHexString
	TokenTrue
	TokenFalse
	TokenNull
)

// Token is one lexical token of a SQL statement. Start and End are byte
// offsets into the statement text, End is exclusive.
type Token struct {
	Kind  TokenKind
	Start int
	End   int
}

// Lexer is the SQL tokenizer / fingerprint / normalize collaborator.
type Lexer interface {
	// Fingerprint returns a structural signature of sql that ignores literal
	// values, together with its 64-bit hash.
	Fingerprint(sql string) (string, uint64, error)
	// Scan returns the token stream of sql in order.
	Scan(sql string) ([]Token, error)
	// Normalize replaces literals in sql by numbered placeholders ($1, $2, ...).
	Normalize(sql string) (string, error)
}

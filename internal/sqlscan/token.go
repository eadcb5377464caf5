// Package sqlscan provides the lexical layer shared by the SQL view and
// procedure extractors.
//
// It is deliberately not a parser. The scanner only knows enough SQL to keep
// string literals, comments and quoted identifiers from leaking into
// keyword matching, and to track parenthesis depth so callers can split
// column and parameter lists on top-level commas.
package sqlscan

import "strings"

// TokenType identifies the lexical class of a token.
type TokenType int

const (
	// EOF is never emitted by Tokenize; it is returned by Stream.Peek past the end.
	EOF TokenType = iota
	// Ident is an unquoted word. Keywords are idents too; see Token.Is.
	// Leading '#', '@' and '$' are part of the word (#temp, @param).
	Ident
	// QuotedIdent is a "double quoted" or [bracketed] identifier.
	// Literal holds the unquoted text.
	QuotedIdent
	Number
	String
	Comma
	LParen
	RParen
	Dot
	Semicolon
	// Operator is any other symbol (=, <, ::, :, ...).
	Operator
)

var typeNames = map[TokenType]string{
	EOF:         "EOF",
	Ident:       "IDENT",
	QuotedIdent: "QUOTED_IDENT",
	Number:      "NUMBER",
	String:      "STRING",
	Comma:       ",",
	LParen:      "(",
	RParen:      ")",
	Dot:         ".",
	Semicolon:   ";",
	Operator:    "OPERATOR",
}

func (t TokenType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// Token is a lexical token with its byte span in the scanned input.
type Token struct {
	Type    TokenType
	Literal string
	// Start and End are byte offsets into the input; input[Start:End] is
	// the token exactly as written, including quotes.
	Start int
	End   int
	Line  int
}

// Is reports whether the token is an unquoted word equal to one of the
// given keywords, ignoring case.
func (t Token) Is(keywords ...string) bool {
	if t.Type != Ident {
		return false
	}
	for _, kw := range keywords {
		if strings.EqualFold(t.Literal, kw) {
			return true
		}
	}
	return false
}

// IsName reports whether the token can start an object name.
func (t Token) IsName() bool {
	return t.Type == Ident || t.Type == QuotedIdent
}

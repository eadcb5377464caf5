package sqlscan

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Lexer tokenizes SQL text. It never fails: unterminated strings, comments
// and quoted identifiers simply run to the end of the input.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
	line    int  // current line number (1-based)
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
	}
	if l.readPos >= len(l.input) {
		l.ch = 0 // ASCII NUL = EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

// peekChar returns the next character without advancing.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// NextToken returns the next token, or a token of type EOF at the end of input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	start, line := l.pos, l.line
	if l.atEOF() {
		return Token{Type: EOF, Start: start, End: start, Line: line}
	}

	var typ TokenType
	var literal string

	switch {
	case l.ch == '\'':
		typ, literal = String, l.readQuoted('\'')
	case l.ch == '"':
		typ, literal = QuotedIdent, l.readQuoted('"')
	case l.ch == '[':
		typ, literal = QuotedIdent, l.readQuoted(']')
	case l.ch == ',':
		typ, literal = Comma, ","
		l.readChar()
	case l.ch == '(':
		typ, literal = LParen, "("
		l.readChar()
	case l.ch == ')':
		typ, literal = RParen, ")"
		l.readChar()
	case l.ch == '.' && !isDigit(l.peekChar()):
		typ, literal = Dot, "."
		l.readChar()
	case l.ch == ';':
		typ, literal = Semicolon, ";"
		l.readChar()
	case isIdentStart(l.ch):
		typ, literal = Ident, l.readIdentifier()
	case isDigit(l.ch) || l.ch == '.':
		typ, literal = Number, l.readNumber()
	default:
		typ, literal = Operator, l.readOperator()
	}

	return Token{Type: typ, Literal: literal, Start: start, End: l.pos, Line: line}
}

// skipWhitespaceAndComments skips whitespace, line comments and block comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f' {
			l.readChar()
		}

		if l.ch == '-' && l.peekChar() == '-' {
			for l.ch != '\n' && !l.atEOF() {
				l.readChar()
			}
			continue
		}

		if l.ch == '/' && l.peekChar() == '*' {
			l.readChar()
			l.readChar()
			for !l.atEOF() {
				if l.ch == '*' && l.peekChar() == '/' {
					l.readChar()
					l.readChar()
					break
				}
				l.readChar()
			}
			continue
		}

		break
	}
}

// readQuoted reads a quoted run ending at closing. A doubled closing
// delimiter is an escape: 'it''s' -> it's, "a""b" -> a"b, [a]]b] -> a]b.
func (l *Lexer) readQuoted(closing byte) string {
	l.readChar() // skip opening delimiter

	var result strings.Builder
	for !l.atEOF() {
		if l.ch == closing {
			if l.peekChar() == closing {
				result.WriteByte(closing)
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar() // skip closing delimiter
			break
		}
		result.WriteByte(l.ch)
		l.readChar()
	}
	return result.String()
}

// readIdentifier reads an unquoted identifier.
func (l *Lexer) readIdentifier() string {
	start := l.pos
	l.readChar()
	for isIdentPart(l.ch) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readNumber reads a numeric literal (integer, decimal, or scientific).
func (l *Lexer) readNumber() string {
	start := l.pos

	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			for isDigit(l.ch) {
				l.readChar()
			}
		}
	}

	return l.input[start:l.pos]
}

// readOperator reads a single symbol, or '::' as one token.
func (l *Lexer) readOperator() string {
	start := l.pos
	if l.ch == ':' && l.peekChar() == ':' {
		l.readChar()
	}
	l.readChar()
	return l.input[start:l.pos]
}

// isIdentStart treats every non-ASCII byte as part of a word so multi-byte
// names survive intact.
func isIdentStart(ch byte) bool {
	if ch >= utf8.RuneSelf {
		return true
	}
	return unicode.IsLetter(rune(ch)) || ch == '_' || ch == '#' || ch == '@' || ch == '$'
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// Tokenize returns all tokens from the input, without a trailing EOF token.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		if tok.Type == EOF {
			return tokens
		}
		tokens = append(tokens, tok)
	}
}

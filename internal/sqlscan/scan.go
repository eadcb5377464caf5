package sqlscan

import (
	"regexp"
	"sort"
	"strings"
)

var (
	escapedGT = regexp.MustCompile(`(?i)&gt;`)
	escapedLT = regexp.MustCompile(`(?i)&lt;`)
)

// Unescape replaces the HTML entities &gt; and &lt; (any case) with the
// comparison operators they stand for.
func Unescape(sql string) string {
	sql = escapedGT.ReplaceAllString(sql, ">")
	return escapedLT.ReplaceAllString(sql, "<")
}

// QualifiedName reads an object name starting at tokens[i]: one or more
// name parts joined by dots. Quoted parts are unquoted and the parts are
// re-joined with "." so `"S"."V"`, `[S].[V]` and `S.V` all yield "S.V".
// It returns the name and the index of the first token after it; ok is
// false when tokens[i] cannot start a name.
func QualifiedName(tokens []Token, i int) (name string, next int, ok bool) {
	if i >= len(tokens) || !tokens[i].IsName() {
		return "", i, false
	}

	parts := []string{tokens[i].Literal}
	next = i + 1
	for next+1 < len(tokens) && tokens[next].Type == Dot && tokens[next+1].IsName() {
		parts = append(parts, tokens[next+1].Literal)
		next += 2
	}
	return strings.Join(parts, "."), next, true
}

// MatchParen returns the index of the RParen closing the LParen at
// tokens[open], or -1 when it is unbalanced or tokens[open] is not "(".
func MatchParen(tokens []Token, open int) int {
	if open >= len(tokens) || tokens[open].Type != LParen {
		return -1
	}
	depth := 0
	for i := open; i < len(tokens); i++ {
		switch tokens[i].Type {
		case LParen:
			depth++
		case RParen:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// SplitTopLevel splits text on commas that are not nested inside
// parentheses, string literals, quoted identifiers or comments. Each part
// is returned as written, trimmed of surrounding whitespace; empty parts
// are dropped.
//
//	SplitTopLevel("ROUND(a/b, 2) AS r, c") // ["ROUND(a/b, 2) AS r", "c"]
func SplitTopLevel(text string) []string {
	tokens := Tokenize(text)

	var parts []string
	flush := func(from, to int) {
		if part := strings.TrimSpace(text[from:to]); part != "" {
			parts = append(parts, part)
		}
	}

	depth, from := 0, 0
	for _, tok := range tokens {
		switch tok.Type {
		case LParen:
			depth++
		case RParen:
			if depth > 0 {
				depth--
			}
		case Comma:
			if depth == 0 {
				flush(from, tok.Start)
				from = tok.End
			}
		}
	}
	flush(from, len(text))
	return parts
}

// Unquote strips one level of surrounding double quotes or brackets from
// every dot-separated part of a raw name: `"S"."T"` -> S.T, [dbo].[P] -> dbo.P.
// Text that does not tokenize as a qualified name is returned with outer
// quotes and brackets trimmed.
func Unquote(raw string) string {
	tokens := Tokenize(raw)
	if name, next, ok := QualifiedName(tokens, 0); ok && next == len(tokens) {
		return name
	}
	return strings.Trim(strings.TrimSpace(raw), `"[]`)
}

// SortedSet returns the distinct non-empty values of items in ascending order.
func SortedSet(items ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, list := range items {
		for _, item := range list {
			if item == "" || seen[item] {
				continue
			}
			seen[item] = true
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return out
}

// functionsWithFrom are built-ins whose argument syntax contains FROM.
var functionsWithFrom = map[string]bool{
	"EXTRACT":   true,
	"TRIM":      true,
	"SUBSTRING": true,
	"POSITION":  true,
	"OVERLAY":   true,
}

// joinModifiers may precede JOIN; they carry no meaning for extraction.
var joinModifiers = []string{"LEFT", "RIGHT", "FULL", "INNER", "OUTER", "CROSS"}

// fromListStop ends an implicit comma join list after FROM.
var fromListStop = []string{
	"WHERE", "GROUP", "ORDER", "HAVING", "UNION", "EXCEPT", "INTERSECT", "MINUS",
	"LIMIT", "JOIN", "ON", "USING", "WITH", "FOR", "INTO", "SET", "WHEN", "THEN",
	"END", "RETURN", "SELECT", "VALUES", "OPTION", "WINDOW", "QUALIFY",
	"OFFSET", "FETCH", "TOP",
}

// TableRefs returns the object names following FROM and
// [LEFT|RIGHT|FULL|INNER|OUTER|CROSS] JOIN, in order of appearance and
// without deduplication. Subqueries after FROM are skipped, as is FROM
// inside EXTRACT/TRIM/SUBSTRING-style argument lists and the FROM of
// IS [NOT] DISTINCT FROM. Comma-separated
// implicit joins (FROM a x, b y) contribute every listed name.
func TableRefs(tokens []Token) []string {
	var refs []string
	// stack[d] is true when the paren at depth d belongs to a function
	// whose syntax uses FROM.
	var stack []bool

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok.Type {
		case LParen:
			fn := i > 0 && tokens[i-1].Type == Ident && functionsWithFrom[strings.ToUpper(tokens[i-1].Literal)]
			stack = append(stack, fn)
			continue
		case RParen:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			continue
		}

		switch {
		case tok.Is("FROM"):
			if len(stack) > 0 && stack[len(stack)-1] {
				continue
			}
			// a IS [NOT] DISTINCT FROM b compares values.
			if i >= 2 && tokens[i-1].Is("DISTINCT") && tokens[i-2].Is("IS", "NOT") {
				continue
			}
			refs = append(refs, fromList(tokens, i+1)...)
		case tok.Is("JOIN"):
			if name, _, ok := QualifiedName(tokens, i+1); ok && !tokens[i+1].Is("LATERAL") {
				refs = append(refs, name)
			}
		}
	}
	return refs
}

// fromList reads "name [AS] [alias] {, name [AS] [alias]}" starting at i.
func fromList(tokens []Token, i int) []string {
	var names []string
	for {
		name, next, ok := QualifiedName(tokens, i)
		if !ok || tokens[i].Is(fromListStop...) {
			return names
		}
		names = append(names, name)

		next = skipAlias(tokens, next)
		// Table function arguments, e.g. FROM f(:x) or HANA placeholder syntax.
		if next < len(tokens) && tokens[next].Type == LParen {
			if end := MatchParen(tokens, next); end > 0 {
				next = skipAlias(tokens, end+1)
			}
		}

		if next+1 >= len(tokens) || tokens[next].Type != Comma {
			return names
		}
		i = next + 1
	}
}

func skipAlias(tokens []Token, i int) int {
	if i < len(tokens) && tokens[i].Is("AS") {
		i++
	}
	if i < len(tokens) && tokens[i].IsName() && !tokens[i].Is(fromListStop...) && !isJoinStart(tokens[i]) {
		i++
	}
	return i
}

func isJoinStart(tok Token) bool {
	return tok.Is(joinModifiers...) || tok.Is("JOIN", "NATURAL")
}

// KeywordSequence reports whether tokens starting at i are the given
// keywords in order, and returns the index after the last one.
func KeywordSequence(tokens []Token, i int, keywords ...string) (int, bool) {
	for _, kw := range keywords {
		if i >= len(tokens) || !tokens[i].Is(kw) {
			return i, false
		}
		i++
	}
	return i, true
}

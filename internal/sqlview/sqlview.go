// Package sqlview extracts the name, output columns and upstream references
// of a CREATE VIEW statement.
//
// Extraction is best effort and never fails: text that does not look like a
// view yields the UnknownView sentinel and empty lists. Each rule is exposed
// as its own function so it can be exercised without the others.
package sqlview

import (
	"github.com/leapstack-labs/hdbgraph/internal/sqlscan"
)

// UnknownView is the name reported when no CREATE VIEW header is found.
const UnknownView = "UNKNOWN_VIEW"

// View is a parsed SQL view definition.
type View struct {
	// Name is the view name with quoting removed, e.g. "S.V".
	Name string `json:"name"`
	// SQL is the raw source text as given to Parse.
	SQL string `json:"-"`
	// Columns are the select-list expressions exactly as written.
	Columns []string `json:"columns"`
	// Inputs are the distinct upstream tables and views, sorted.
	Inputs []string `json:"inputs"`
}

// Parse extracts a View from SQL text.
func Parse(sql string) *View {
	normalized := Normalize(sql)
	tokens := sqlscan.Tokenize(normalized)

	return &View{
		Name:    extractName(tokens),
		SQL:     sql,
		Columns: extractColumns(normalized, tokens),
		Inputs:  extractInputs(tokens),
	}
}

// Normalize undoes HTML escaping that uploaded SQL sometimes carries:
// "&gt;" becomes ">" and "&lt;" becomes "<", case-insensitively.
func Normalize(sql string) string {
	return sqlscan.Unescape(sql)
}

// ExtractName returns the name following CREATE [OR REPLACE] VIEW, with
// quotes stripped and schema qualification kept ("S"."V" -> S.V), or
// UnknownView.
func ExtractName(sql string) string {
	return extractName(sqlscan.Tokenize(Normalize(sql)))
}

func extractName(tokens []sqlscan.Token) string {
	for i, tok := range tokens {
		if !tok.Is("CREATE") {
			continue
		}
		next := i + 1
		if after, ok := sqlscan.KeywordSequence(tokens, next, "OR", "REPLACE"); ok {
			next = after
		}
		next, ok := sqlscan.KeywordSequence(tokens, next, "VIEW")
		if !ok {
			continue
		}
		if name, _, ok := sqlscan.QualifiedName(tokens, next); ok {
			return name
		}
	}
	return UnknownView
}

// ExtractColumns returns the select-list entries between the first SELECT
// and the FROM that closes it at the same parenthesis depth, split on
// top-level commas. A SELECT without FROM yields no columns.
func ExtractColumns(sql string) []string {
	normalized := Normalize(sql)
	return extractColumns(normalized, sqlscan.Tokenize(normalized))
}

func extractColumns(sql string, tokens []sqlscan.Token) []string {
	start := -1
	for i, tok := range tokens {
		if tok.Is("SELECT") {
			start = i
			break
		}
	}
	if start < 0 {
		return []string{}
	}

	depth := 0
	for i := start + 1; i < len(tokens); i++ {
		switch tokens[i].Type {
		case sqlscan.LParen:
			depth++
		case sqlscan.RParen:
			depth--
			if depth < 0 {
				// SELECT was inside a subquery that closed without a FROM.
				return []string{}
			}
		}
		if depth == 0 && tokens[i].Is("FROM") {
			cols := sqlscan.SplitTopLevel(sql[tokens[start].End:tokens[i].Start])
			if cols == nil {
				return []string{}
			}
			return cols
		}
	}
	return []string{}
}

// ExtractInputs returns the distinct names following FROM and JOIN, sorted.
func ExtractInputs(sql string) []string {
	return extractInputs(sqlscan.Tokenize(Normalize(sql)))
}

func extractInputs(tokens []sqlscan.Token) []string {
	return sqlscan.SortedSet(sqlscan.TableRefs(tokens))
}

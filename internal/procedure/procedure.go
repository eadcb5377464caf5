// Package procedure extracts the signature and data dependencies of a SQL
// stored procedure: its name, parameters, the objects it reads, writes and
// calls, and the transient tables it creates.
//
// Like sqlview, the parser never fails. Text without a recognizable header
// yields UnknownProcedure and empty lists.
package procedure

import (
	"strings"

	"github.com/leapstack-labs/hdbgraph/internal/sqlscan"
)

// UnknownProcedure is the name reported when no procedure header is found.
const UnknownProcedure = "UNKNOWN_PROCEDURE"

// Direction is a parameter's data-flow direction.
type Direction string

// Parameter directions.
const (
	In    Direction = "IN"
	Out   Direction = "OUT"
	InOut Direction = "INOUT"
)

// Parameter is one declared procedure parameter.
type Parameter struct {
	Direction Direction `json:"direction"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
}

// Procedure is a parsed stored procedure.
type Procedure struct {
	Name        string      `json:"name"`
	SQL         string      `json:"-"`
	Parameters  []Parameter `json:"parameters"`
	Reads       []string    `json:"reads"`
	Writes      []string    `json:"writes"`
	Calls       []string    `json:"calls"`
	TempTables  []string    `json:"temp_tables"`
	CTASTargets []string    `json:"ctas_targets"`
}

// Inputs returns the procedure's dependencies for graph purposes: every
// object it reads plus every procedure it calls, sorted and de-duplicated.
// Written objects are not inputs.
func (p *Procedure) Inputs() []string {
	return sqlscan.SortedSet(p.Reads, p.Calls)
}

// Parse extracts a Procedure from SQL text.
func Parse(sql string) *Procedure {
	normalized, tokens := tokenize(sql)

	name, after := header(tokens)
	return &Procedure{
		Name:        name,
		SQL:         sql,
		Parameters:  parameters(normalized, tokens, after),
		Reads:       extractReads(tokens),
		Writes:      extractWrites(tokens),
		Calls:       extractCalls(tokens),
		TempTables:  extractTempTables(tokens),
		CTASTargets: extractCTASTargets(tokens),
	}
}

func tokenize(sql string) (string, []sqlscan.Token) {
	normalized := sqlscan.Unescape(sql)
	return normalized, sqlscan.Tokenize(normalized)
}

// ExtractName returns the name following CREATE|ALTER PROCEDURE|PROC
// (also CREATE OR REPLACE and CREATE OR ALTER), with brackets and quotes
// stripped, or UnknownProcedure.
func ExtractName(sql string) string {
	_, tokens := tokenize(sql)
	name, _ := header(tokens)
	return name
}

// header finds the procedure header and returns the name and the index of
// the first token after it, or -1 when there is no header.
func header(tokens []sqlscan.Token) (string, int) {
	for i, tok := range tokens {
		if !tok.Is("CREATE", "ALTER") {
			continue
		}
		next := i + 1
		if after, ok := sqlscan.KeywordSequence(tokens, next, "OR", "REPLACE"); ok {
			next = after
		} else if after, ok := sqlscan.KeywordSequence(tokens, next, "OR", "ALTER"); ok {
			next = after
		}
		if next >= len(tokens) || !tokens[next].Is("PROCEDURE", "PROC") {
			continue
		}
		if name, after, ok := sqlscan.QualifiedName(tokens, next+1); ok {
			return name, after
		}
	}
	return UnknownProcedure, -1
}

// signatureEnd marks the end of an unparenthesized parameter list.
var signatureEnd = []string{"AS", "IS", "BEGIN", "LANGUAGE", "SQL", "READS", "WITH"}

// ExtractParameters returns the declared parameters. A parenthesized list
// directly after the name is preferred; otherwise the text between the name
// and the first top-level AS is used. Fragments without both a name and a
// type are ignored.
func ExtractParameters(sql string) []Parameter {
	normalized, tokens := tokenize(sql)
	_, after := header(tokens)
	return parameters(normalized, tokens, after)
}

func parameters(sql string, tokens []sqlscan.Token, after int) []Parameter {
	params := []Parameter{}
	if after < 0 || after >= len(tokens) {
		return params
	}

	var list string
	if tokens[after].Type == sqlscan.LParen {
		end := sqlscan.MatchParen(tokens, after)
		if end < 0 {
			list = sql[tokens[after].End:]
		} else {
			list = sql[tokens[after].End:tokens[end].Start]
		}
	} else {
		stop, depth := len(tokens), 0
		for i := after; i < len(tokens); i++ {
			switch tokens[i].Type {
			case sqlscan.LParen:
				depth++
			case sqlscan.RParen:
				depth--
			}
			if depth == 0 && (tokens[i].Is(signatureEnd...) || tokens[i].Type == sqlscan.Semicolon) {
				stop = i
				break
			}
		}
		if stop == after {
			return params
		}
		end := len(sql)
		if stop < len(tokens) {
			end = tokens[stop].Start
		}
		list = sql[tokens[after].Start:end]
	}

	for _, fragment := range sqlscan.SplitTopLevel(list) {
		if p, ok := parseParameter(fragment); ok {
			params = append(params, p)
		}
	}
	return params
}

// parseParameter reads "[IN|OUT|INOUT] name type [OUT|OUTPUT]".
func parseParameter(fragment string) (Parameter, bool) {
	tokens := sqlscan.Tokenize(fragment)
	p := Parameter{Direction: In}

	i := 0
	if len(tokens) > 2 && tokens[0].Is("IN", "OUT", "INOUT") {
		p.Direction = Direction(strings.ToUpper(tokens[0].Literal))
		i++
	}
	if i >= len(tokens) || !tokens[i].IsName() {
		return Parameter{}, false
	}
	p.Name = tokens[i].Literal
	i++

	if i < len(tokens) && tokens[i].Is("AS") {
		i++
	}
	_, next, ok := sqlscan.QualifiedName(tokens, i)
	if !ok {
		return Parameter{}, false
	}
	last := next - 1
	if next < len(tokens) && tokens[next].Type == sqlscan.LParen {
		if end := sqlscan.MatchParen(tokens, next); end > 0 {
			last = end
			next = end + 1
		}
	}
	p.Type = fragment[tokens[i].Start:tokens[last].End]

	for _, tok := range tokens[next:] {
		if tok.Is("OUT", "OUTPUT") {
			p.Direction = Out
		}
	}
	return p, true
}

// ExtractReads returns the distinct objects following FROM and JOIN, sorted.
func ExtractReads(sql string) []string {
	_, tokens := tokenize(sql)
	return extractReads(tokens)
}

func extractReads(tokens []sqlscan.Token) []string {
	return sqlscan.SortedSet(sqlscan.TableRefs(tokens))
}

// ExtractWrites returns the distinct targets of INSERT [INTO], UPDATE,
// MERGE [INTO], UPSERT, DELETE FROM and TRUNCATE TABLE, sorted.
func ExtractWrites(sql string) []string {
	_, tokens := tokenize(sql)
	return extractWrites(tokens)
}

func extractWrites(tokens []sqlscan.Token) []string {
	var writes []string
	add := func(i int) {
		if i >= len(tokens) || tokens[i].Is("SET", "SELECT", "STATISTICS", "VALUES", "ON", "DEFAULT") {
			return
		}
		if name, _, ok := sqlscan.QualifiedName(tokens, i); ok {
			writes = append(writes, name)
		}
	}

	for i, tok := range tokens {
		// MERGE actions (THEN INSERT) write the MERGE target; privilege
		// lists (GRANT SELECT, INSERT ON t) write nothing.
		if tok.Is("INSERT", "UPDATE", "DELETE") && i > 0 &&
			(tokens[i-1].Is("THEN", "GRANT", "REVOKE") || tokens[i-1].Type == sqlscan.Comma) {
			continue
		}
		switch {
		case tok.Is("INSERT", "MERGE"):
			if next, ok := sqlscan.KeywordSequence(tokens, i+1, "INTO"); ok {
				add(next)
			} else {
				add(i + 1)
			}
		case tok.Is("UPSERT"):
			add(i + 1)
		case tok.Is("UPDATE"):
			// ON UPDATE CASCADE, FOR UPDATE, BEFORE UPDATE triggers.
			if i > 0 && tokens[i-1].Is("ON", "FOR", "BEFORE", "AFTER", "OF") {
				continue
			}
			add(i + 1)
		case tok.Is("DELETE"):
			if next, ok := sqlscan.KeywordSequence(tokens, i+1, "FROM"); ok {
				add(next)
			}
		case tok.Is("TRUNCATE"):
			if next, ok := sqlscan.KeywordSequence(tokens, i+1, "TABLE"); ok {
				add(next)
			}
		}
	}
	return sqlscan.SortedSet(writes)
}

// ExtractCalls returns the distinct procedures invoked with CALL, EXEC or
// EXECUTE, sorted. Dynamic SQL (EXEC('...'), EXECUTE IMMEDIATE) and
// procedure names held in variables are not resolvable and are skipped.
func ExtractCalls(sql string) []string {
	_, tokens := tokenize(sql)
	return extractCalls(tokens)
}

func extractCalls(tokens []sqlscan.Token) []string {
	var calls []string
	for i, tok := range tokens {
		switch {
		case tok.Is("CALL"):
			if name, _, ok := sqlscan.QualifiedName(tokens, i+1); ok {
				calls = append(calls, name)
			}
		case tok.Is("EXEC", "EXECUTE"):
			if i > 0 && tokens[i-1].Is("GRANT", "REVOKE") {
				continue
			}
			j := i + 1
			// EXEC @rc = dbo.Proc
			if j+1 < len(tokens) && strings.HasPrefix(tokens[j].Literal, "@") && tokens[j+1].Literal == "=" {
				j += 2
			}
			if j >= len(tokens) || tokens[j].Is("IMMEDIATE", "ON", "AS") {
				continue
			}
			name, _, ok := sqlscan.QualifiedName(tokens, j)
			if ok && !strings.HasPrefix(name, "@") {
				calls = append(calls, name)
			}
		}
	}
	return sqlscan.SortedSet(calls)
}

// ExtractTempTables returns the distinct transient tables, sorted: names
// with a leading '#' created with CREATE TABLE or targeted by INTO, and any
// table created with CREATE [LOCAL|GLOBAL] TEMPORARY TABLE.
func ExtractTempTables(sql string) []string {
	_, tokens := tokenize(sql)
	return extractTempTables(tokens)
}

func extractTempTables(tokens []sqlscan.Token) []string {
	var temps []string
	for i, tok := range tokens {
		switch {
		case tok.Is("CREATE"):
			name, temporary, _, ok := createTable(tokens, i)
			if ok && (temporary || strings.HasPrefix(name, "#")) {
				temps = append(temps, name)
			}
		case tok.Is("INTO"):
			if name, _, ok := sqlscan.QualifiedName(tokens, i+1); ok && strings.HasPrefix(name, "#") {
				temps = append(temps, name)
			}
		}
	}
	return sqlscan.SortedSet(temps)
}

// ExtractCTASTargets returns the distinct tables created from a query,
// sorted: CREATE TABLE name [WITH (...)] AS SELECT, also with the query
// in parentheses.
func ExtractCTASTargets(sql string) []string {
	_, tokens := tokenize(sql)
	return extractCTASTargets(tokens)
}

func extractCTASTargets(tokens []sqlscan.Token) []string {
	var targets []string
	for i, tok := range tokens {
		if !tok.Is("CREATE") {
			continue
		}
		name, _, next, ok := createTable(tokens, i)
		if !ok {
			continue
		}
		if next < len(tokens) && tokens[next].Is("WITH") && next+1 < len(tokens) && tokens[next+1].Type == sqlscan.LParen {
			end := sqlscan.MatchParen(tokens, next+1)
			if end < 0 {
				continue
			}
			next = end + 1
		}
		next, ok = sqlscan.KeywordSequence(tokens, next, "AS")
		if !ok {
			continue
		}
		for next < len(tokens) && tokens[next].Type == sqlscan.LParen {
			next++
		}
		if next < len(tokens) && tokens[next].Is("SELECT", "WITH") {
			targets = append(targets, name)
		}
	}
	return sqlscan.SortedSet(targets)
}

// createTable reads "CREATE [LOCAL|GLOBAL] [TEMPORARY|TEMP] [COLUMN|ROW]
// TABLE name" at tokens[i].
func createTable(tokens []sqlscan.Token, i int) (name string, temporary bool, next int, ok bool) {
	j := i + 1
	if j < len(tokens) && tokens[j].Is("LOCAL", "GLOBAL") {
		j++
	}
	if j < len(tokens) && tokens[j].Is("TEMPORARY", "TEMP") {
		temporary = true
		j++
	}
	if j < len(tokens) && tokens[j].Is("COLUMN", "ROW") {
		j++
	}
	j, ok = sqlscan.KeywordSequence(tokens, j, "TABLE")
	if !ok {
		return "", false, j, false
	}
	name, next, ok = sqlscan.QualifiedName(tokens, j)
	return name, temporary, next, ok
}

// Package summary turns parsed artifacts into short descriptive bullets
// for the describe command and the API. The bullets are heuristic and
// purely informational; nothing else in the module depends on them.
package summary

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/leapstack-labs/hdbgraph/internal/calcview"
	"github.com/leapstack-labs/hdbgraph/internal/loader"
	"github.com/leapstack-labs/hdbgraph/internal/procedure"
	"github.com/leapstack-labs/hdbgraph/internal/sqlview"
)

// MaxListItems is how many names a bullet lists before truncating.
const MaxListItems = 6

// maxWherePreview bounds the WHERE clause excerpt, in runes.
const maxWherePreview = 180

var (
	joinPattern      = regexp.MustCompile(`(?i)\bJOIN\b`)
	overPattern      = regexp.MustCompile(`(?i)\bOVER\s*\(`)
	casePattern      = regexp.MustCompile(`(?i)\bCASE\b`)
	distinctPattern  = regexp.MustCompile(`(?i)\bDISTINCT\b`)
	groupByPattern   = regexp.MustCompile(`(?i)\bGROUP\s+BY\b`)
	aggregatePattern = regexp.MustCompile(`(?i)\b(SUM|COUNT|AVG|MIN|MAX)\s*\(`)
	datePattern      = regexp.MustCompile(`(?i)\b(DATEDIFF|DAYS_BETWEEN|ADD_DAYS)\s*\(`)
	wherePattern     = regexp.MustCompile(`(?is)\bWHERE\b(.*?)(\bGROUP\b|\bORDER\b|;|$)`)
)

// CompactList joins items with ", ", listing at most limit of them and
// noting how many were left out.
func CompactList(items []string, limit int) string {
	if len(items) <= limit {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s … (+%d more)", strings.Join(items[:limit], ", "), len(items)-limit)
}

// Procedure describes a stored procedure.
func Procedure(p *procedure.Procedure) []string {
	bullets := []string{}
	sql := p.SQL

	if datePattern.MatchString(sql) {
		bullets = append(bullets, "Computes date differences, typically for aging or period buckets.")
	}
	if overPattern.MatchString(sql) {
		bullets = append(bullets, "Uses window functions (OVER) for running or ranked values.")
	}
	if len(p.TempTables) > 0 || len(p.CTASTargets) > 0 {
		bullets = append(bullets, "Stages intermediate results in temporary tables via SELECT INTO or CREATE TABLE AS.")
	}

	var reads []string
	for _, r := range p.Reads {
		if !strings.HasPrefix(r, "#") && !strings.EqualFold(r, "STRING_SPLIT") {
			reads = append(reads, r)
		}
	}
	if len(reads) > 0 {
		bullets = append(bullets, fmt.Sprintf("Reads from: %s.", CompactList(reads, MaxListItems)))
	}
	if len(p.Writes) > 0 {
		bullets = append(bullets, fmt.Sprintf("Writes to: %s.", CompactList(p.Writes, MaxListItems)))
	}
	if len(p.Calls) > 0 {
		bullets = append(bullets, fmt.Sprintf("Calls: %s.", CompactList(p.Calls, MaxListItems)))
	}
	if len(p.TempTables) > 0 {
		bullets = append(bullets, fmt.Sprintf("Builds temp staging tables: %s.", CompactList(p.TempTables, MaxListItems)))
	}
	if n := len(joinPattern.FindAllStringIndex(sql, -1)); n > 0 {
		bullets = append(bullets, fmt.Sprintf("Contains ~%d JOINs.", n))
	}
	if casePattern.MatchString(sql) {
		bullets = append(bullets, "Derives values with CASE expressions.")
	}
	return bullets
}

// View describes a SQL view.
func View(v *sqlview.View) []string {
	bullets := []string{}
	sql := v.SQL

	if len(v.Columns) > 0 {
		bullets = append(bullets, fmt.Sprintf("Outputs %d columns (preview: %s).", len(v.Columns), CompactList(v.Columns, MaxListItems)))
	}
	if len(v.Inputs) > 0 {
		bullets = append(bullets, fmt.Sprintf("Sources from: %s.", CompactList(v.Inputs, MaxListItems)))
	}
	if n := len(joinPattern.FindAllStringIndex(sql, -1)); n > 0 {
		bullets = append(bullets, fmt.Sprintf("Contains ~%d JOINs.", n))
	}
	if distinctPattern.MatchString(sql) {
		bullets = append(bullets, "Uses SELECT DISTINCT to remove duplicates.")
	}
	if groupByPattern.MatchString(sql) {
		if funcs := aggregates(sql); len(funcs) > 0 {
			bullets = append(bullets, fmt.Sprintf("Aggregates data (%s).", strings.Join(funcs, ", ")))
		}
	}
	if m := wherePattern.FindStringSubmatch(sql); m != nil {
		where := strings.Join(strings.Fields(m[1]), " ")
		if where != "" {
			bullets = append(bullets, "Filters rows in WHERE clause (preview): "+truncate(where, maxWherePreview))
		}
	}
	return bullets
}

// CalcView describes a calculation view.
func CalcView(doc *calcview.Document) []string {
	bullets := []string{}
	if len(doc.NodeIDs) == 0 {
		return bullets
	}

	kinds := make(map[calcview.Kind]int)
	var attrs, measures, calcMeasures, filters int
	joinTypes := make(map[string]bool)
	for _, id := range doc.NodeIDs {
		n := doc.Nodes[id]
		kinds[n.Kind]++
		attrs += len(n.Attributes)
		measures += len(n.Measures)
		calcMeasures += len(n.CalculatedMeasures)
		filters += len(n.Filters)
		if n.JoinType != "" {
			joinTypes[n.JoinType] = true
		}
	}

	bullets = append(bullets, fmt.Sprintf("Graph contains %d nodes (Projection: %d, Join: %d, Aggregation: %d, Union: %d).",
		len(doc.NodeIDs), kinds[calcview.Projection], kinds[calcview.Join], kinds[calcview.Aggregation], kinds[calcview.Union]))
	if attrs > 0 || measures > 0 {
		bullets = append(bullets, fmt.Sprintf("Defines ~%d attributes and ~%d measures across nodes.", attrs, measures))
	}
	if calcMeasures > 0 {
		bullets = append(bullets, fmt.Sprintf("Includes %d calculated measures.", calcMeasures))
	}
	if filters > 0 {
		bullets = append(bullets, fmt.Sprintf("Applies ~%d node-level filters.", filters))
	}
	if len(joinTypes) > 0 {
		types := make([]string, 0, len(joinTypes))
		for t := range joinTypes {
			types = append(types, t)
		}
		sort.Strings(types)
		bullets = append(bullets, fmt.Sprintf("Join types used: %s.", strings.Join(types, ", ")))
	}
	if len(doc.DataSources) > 0 {
		uris := make([]string, 0, len(doc.DataSources))
		for _, uri := range doc.DataSources {
			uris = append(uris, uri)
		}
		sort.Strings(uris)
		bullets = append(bullets, fmt.Sprintf("Reads data sources: %s.", CompactList(uris, MaxListItems)))
	}
	bullets = append(bullets, fmt.Sprintf("Build order preview: %s.", CompactList(doc.NodeOrder().Sequence, MaxListItems)))
	return bullets
}

// aggregates returns the distinct aggregate functions used in sql,
// upper-cased and sorted.
func aggregates(sql string) []string {
	seen := make(map[string]bool)
	for _, m := range aggregatePattern.FindAllStringSubmatch(sql, -1) {
		seen[strings.ToUpper(m[1])] = true
	}
	funcs := make([]string, 0, len(seen))
	for f := range seen {
		funcs = append(funcs, f)
	}
	sort.Strings(funcs)
	return funcs
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "…"
}

// Artifact describes whichever model a loaded artifact carries.
func Artifact(a *loader.Artifact) []string {
	switch {
	case a == nil:
		return []string{}
	case a.CalcView != nil:
		return CalcView(a.CalcView)
	case a.View != nil:
		return View(a.View)
	case a.Procedure != nil:
		return Procedure(a.Procedure)
	default:
		return []string{}
	}
}

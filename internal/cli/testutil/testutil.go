// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"regexp"
	"strings"
	"testing"

	"github.com/leapstack-labs/hdbgraph/internal/cli/output"
	"github.com/leapstack-labs/hdbgraph/internal/testutil"
)

// Project files written by SetupTestProject.
const (
	ViewFile      = "views/V.hdbview"
	ProcedureFile = "procedures/P.hdbprocedure"
	BrokenFile    = "cv/BROKEN.hdbcalculationview"
)

// SetupTestProject creates a temporary artifacts directory with one view,
// one procedure reading it, a malformed calculation view and a file that
// is not an artifact. The merged graph is
//
//	S.T <- S.V <- S.P -> (writes) S.OUT
func SetupTestProject(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{
		ViewFile:      `VIEW "S"."V" AS SELECT a, b FROM "S"."T"`,
		ProcedureFile: `PROCEDURE "S"."P" AS BEGIN INSERT INTO "S"."OUT" SELECT * FROM "S"."V"; END`,
		BrokenFile:    `<Calculation:scenario id="BROKEN"><calculationViews>`,
		"README.md":   "# artifacts",
	})
	return dir
}

// SetupCyclicProject creates an artifacts directory with two views that
// read each other and one view outside the cycle.
func SetupCyclicProject(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{
		"A.hdbview": `VIEW "S"."A" AS SELECT x FROM "S"."B"`,
		"B.hdbview": `VIEW "S"."B" AS SELECT x FROM "S"."A"`,
		"C.hdbview": `VIEW "S"."C" AS SELECT x FROM "S"."BASE"`,
	})
	return dir
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and TTY state.
func NewTestRenderer(mode output.Mode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, isTTY, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// NewTestRendererText creates a new test renderer in text mode (simulated TTY).
func NewTestRendererText() *TestRenderer {
	return NewTestRenderer(output.ModeText, true)
}

// NewTestRendererMarkdown creates a new test renderer in markdown mode.
func NewTestRendererMarkdown() *TestRenderer {
	return NewTestRenderer(output.ModeMarkdown, false)
}

// Output returns the captured stdout.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the captured stderr.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertValidMarkdown checks for unclosed code fences and empty headers.
func AssertValidMarkdown(t *testing.T, md string) {
	t.Helper()

	if n := strings.Count(md, "```"); n%2 != 0 {
		t.Errorf("unbalanced code fences in markdown: found %d occurrences", n)
	}

	for i, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && strings.TrimLeft(trimmed, "# ") == "" {
			t.Errorf("empty header at line %d: %q", i+1, line)
		}
	}
}

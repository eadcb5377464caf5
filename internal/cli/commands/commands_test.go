package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/hdbgraph/internal/cli/config"
	"github.com/leapstack-labs/hdbgraph/internal/cli/output"
	clitest "github.com/leapstack-labs/hdbgraph/internal/cli/testutil"
	"github.com/leapstack-labs/hdbgraph/internal/state"
	"github.com/leapstack-labs/hdbgraph/internal/testutil"
)

// testConfig returns a config for dir with a private state database.
func testConfig(t *testing.T, dir, mode string) *config.Config {
	t.Helper()
	return &config.Config{
		ArtifactsDir: dir,
		StatePath:    filepath.Join(t.TempDir(), "state.db"),
		Output:       mode,
		API:          config.APIConfig{Host: "127.0.0.1"},
		Watch:        config.WatchConfig{DebounceMS: 20},
	}
}

// execute runs cmd with cfg in its context and returns stdout and stderr.
func execute(t *testing.T, ctx context.Context, cfg *config.Config, cmd *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	ctx = config.WithConfig(ctx, cfg)
	ctx = config.WithLogger(ctx, testutil.NewTestLogger(t))

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func TestAnalyze_JSON(t *testing.T) {
	cfg := testConfig(t, clitest.SetupTestProject(t), "json")

	stdout, stderr, err := execute(t, context.Background(), cfg, NewAnalyzeCommand())
	require.NoError(t, err)

	var out output.AnalyzeOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, 2, out.Artifacts)
	assert.Equal(t, 4, out.Nodes)
	assert.Equal(t, 2, out.Edges)
	assert.Equal(t, map[string]int{"SQLView": 1, "Procedure": 1, "Table": 2}, out.Kinds)
	assert.Equal(t, []string{"S.T", "S.OUT", "S.V", "S.P"}, out.Sequence)
	assert.Empty(t, out.Unresolved)
	assert.Equal(t, []string{"README.md"}, out.Skipped)
	assert.Empty(t, out.RunID)

	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, "S.V", out.Conflicts[0].ID)
	assert.True(t, out.Conflicts[0].Placeholder)

	require.Len(t, out.Errors, 1)
	assert.Equal(t, clitest.BrokenFile, out.Errors[0].Path)
	assert.Contains(t, stderr, clitest.BrokenFile, "load errors are warned about")
}

func TestAnalyze_Markdown(t *testing.T) {
	cfg := testConfig(t, clitest.SetupTestProject(t), "markdown")

	stdout, _, err := execute(t, context.Background(), cfg, NewAnalyzeCommand())
	require.NoError(t, err)

	assert.Contains(t, stdout, "# Analysis")
	assert.Contains(t, stdout, "**Nodes:** 4")
	assert.Contains(t, stdout, "## Load errors")
	assert.Contains(t, stdout, "1. S.T\n2. S.OUT\n3. S.V\n4. S.P\n")
	assert.Contains(t, stdout, "Skipped 1 unsupported file.")
	assert.NotContains(t, stdout, "Kind conflicts", "placeholder conflicts are not reported")
	clitest.AssertNoANSI(t, stdout)
	clitest.AssertValidMarkdown(t, stdout)
}

func TestAnalyze_SaveAndHistory(t *testing.T) {
	cfg := testConfig(t, clitest.SetupTestProject(t), "json")
	ctx := context.Background()

	stdout, _, err := execute(t, ctx, cfg, NewAnalyzeCommand(), "--save", "--label", "nightly")
	require.NoError(t, err)
	var analyzed output.AnalyzeOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &analyzed))
	require.NotEmpty(t, analyzed.RunID)

	stdout, _, err = execute(t, ctx, cfg, NewHistoryCommand())
	require.NoError(t, err)
	var runs []*state.Run
	require.NoError(t, json.Unmarshal([]byte(stdout), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, analyzed.RunID, runs[0].ID)
	assert.Equal(t, "nightly", runs[0].Label)
	assert.Equal(t, 4, runs[0].Nodes)
	assert.Equal(t, 1, runs[0].LoadErrors)

	stdout, _, err = execute(t, ctx, cfg, NewShowCommand(), analyzed.RunID, "--nodes")
	require.NoError(t, err)
	var shown struct {
		state.Run
		Graph struct {
			Nodes []struct {
				ID string `json:"id"`
			} `json:"nodes"`
		} `json:"graph"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &shown))
	assert.Equal(t, analyzed.Sequence, shown.Order.Sequence)
	assert.Len(t, shown.Artifacts, 2)
	assert.Len(t, shown.Graph.Nodes, 4)

	_, _, err = execute(t, ctx, cfg, NewHistoryCommand(), "rm", analyzed.RunID)
	require.NoError(t, err)

	_, _, err = execute(t, ctx, cfg, NewShowCommand(), analyzed.RunID)
	assert.ErrorIs(t, err, state.ErrRunNotFound)
}

func TestHistory_Empty(t *testing.T) {
	cfg := testConfig(t, t.TempDir(), "markdown")

	stdout, _, err := execute(t, context.Background(), cfg, NewHistoryCommand())
	require.NoError(t, err)
	assert.Contains(t, stdout, "No saved runs")
}

func TestOrder(t *testing.T) {
	cfg := testConfig(t, clitest.SetupTestProject(t), "json")

	stdout, _, err := execute(t, context.Background(), cfg, NewOrderCommand(), "--levels")
	require.NoError(t, err)

	var out output.OrderOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, []string{"S.T", "S.OUT", "S.V", "S.P"}, out.Sequence)
	require.Len(t, out.Levels, 3)
	assert.ElementsMatch(t, []string{"S.T", "S.OUT"}, out.Levels[0])
	assert.Equal(t, []string{"S.V"}, out.Levels[1])
	assert.Equal(t, []string{"S.P"}, out.Levels[2])
}

func TestOrder_Cycles(t *testing.T) {
	cfg := testConfig(t, clitest.SetupCyclicProject(t), "markdown")

	stdout, _, err := execute(t, context.Background(), cfg, NewOrderCommand())
	require.NoError(t, err)
	assert.Contains(t, stdout, "## Unresolved (cycles)")
	assert.Contains(t, stdout, "- S.A\n")
	assert.Contains(t, stdout, "- S.B\n")

	_, _, err = execute(t, context.Background(), cfg, NewOrderCommand(), "--levels")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot group into levels")
}

func TestOrder_RootsAndLeaves(t *testing.T) {
	cfg := testConfig(t, clitest.SetupTestProject(t), "json")

	stdout, _, err := execute(t, context.Background(), cfg, NewOrderCommand())
	require.NoError(t, err)

	var out output.OrderOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, []string{"S.OUT", "S.T"}, out.Roots)
	assert.Equal(t, []string{"S.OUT", "S.P"}, out.Leaves)
	assert.Empty(t, out.Levels)
}

func TestOrder_Strict(t *testing.T) {
	tests := []struct {
		name    string
		dir     func(t *testing.T) string
		wantErr string
		wantOut string
	}{
		{
			name:    "acyclic graph",
			dir:     clitest.SetupTestProject,
			wantOut: "1. S.T\n",
		},
		{
			name:    "cycle is an error",
			dir:     clitest.SetupCyclicProject,
			wantErr: "no strict build order",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, tt.dir(t), "markdown")
			stdout, _, err := execute(t, context.Background(), cfg, NewOrderCommand(), "--strict")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Contains(t, err.Error(), "cycle detected")
				return
			}
			require.NoError(t, err)
			assert.Contains(t, stdout, tt.wantOut)
			assert.Contains(t, stdout, "**Sources:** S.OUT, S.T")
			assert.Contains(t, stdout, "**Final outputs:** S.OUT, S.P")
		})
	}
}

func TestOrder_LevelsMarkdown(t *testing.T) {
	cfg := testConfig(t, clitest.SetupTestProject(t), "markdown")

	stdout, _, err := execute(t, context.Background(), cfg, NewOrderCommand(), "--levels")
	require.NoError(t, err)
	assert.Contains(t, stdout, "## Level 0 (sources)")
	assert.Contains(t, stdout, "- S.V [SQLView]\n  - depends on: S.T\n  - used by: S.P\n")
	assert.Contains(t, stdout, "**Total:** 4 objects, 2 dependencies")
}

func TestDescribe(t *testing.T) {
	dir := clitest.SetupTestProject(t)

	t.Run("list", func(t *testing.T) {
		stdout, _, err := execute(t, context.Background(), testConfig(t, dir, "json"), NewDescribeCommand())
		require.NoError(t, err)

		var items []output.ArtifactListItem
		require.NoError(t, json.Unmarshal([]byte(stdout), &items))
		require.Len(t, items, 2)
		names := []string{items[0].Name, items[1].Name}
		assert.ElementsMatch(t, []string{"S.V", "S.P"}, names)
	})

	t.Run("by name", func(t *testing.T) {
		stdout, _, err := execute(t, context.Background(), testConfig(t, dir, "markdown"), NewDescribeCommand(), "s.p")
		require.NoError(t, err)
		assert.Contains(t, stdout, "# S.P")
		assert.Contains(t, stdout, "## Reads\n\n- S.V\n")
		assert.Contains(t, stdout, "## Writes\n\n- S.OUT\n")
		assert.Contains(t, stdout, "## Summary")
	})

	t.Run("by path as json", func(t *testing.T) {
		stdout, _, err := execute(t, context.Background(), testConfig(t, dir, "json"), NewDescribeCommand(), clitest.ViewFile)
		require.NoError(t, err)

		var out map[string]any
		require.NoError(t, json.Unmarshal([]byte(stdout), &out))
		assert.Equal(t, "S.V", out["name"])
		assert.NotEmpty(t, out["summary"])
	})

	t.Run("unknown", func(t *testing.T) {
		_, _, err := execute(t, context.Background(), testConfig(t, dir, "json"), NewDescribeCommand(), "NOPE")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "artifact not found")
	})
}

func TestLineage(t *testing.T) {
	dir := clitest.SetupTestProject(t)

	tests := []struct {
		name    string
		cmd     func() *cobra.Command
		args    []string
		want    []string
		wantErr string
	}{
		{name: "impact of table", cmd: NewImpactCommand, args: []string{"S.T"}, want: []string{"S.P", "S.V"}},
		{name: "impact depth 1", cmd: NewImpactCommand, args: []string{"S.T", "--depth", "1"}, want: []string{"S.V"}},
		{name: "impact of leaf", cmd: NewImpactCommand, args: []string{"S.P"}, want: []string{}},
		{name: "upstream of procedure", cmd: NewUpstreamCommand, args: []string{"S.P"}, want: []string{"S.T", "S.V"}},
		{name: "upstream case-insensitive", cmd: NewUpstreamCommand, args: []string{"s.v"}, want: []string{"S.T"}},
		{name: "unknown node", cmd: NewUpstreamCommand, args: []string{"S.NOPE"}, wantErr: "node not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := execute(t, context.Background(), testConfig(t, dir, "json"), tt.cmd(), tt.args...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)

			var out output.LineageOutput
			require.NoError(t, json.Unmarshal([]byte(stdout), &out))
			ids := make([]string, 0, len(out.Nodes))
			for _, n := range out.Nodes {
				ids = append(ids, n.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestImpact_Markdown(t *testing.T) {
	cfg := testConfig(t, clitest.SetupTestProject(t), "markdown")

	stdout, _, err := execute(t, context.Background(), cfg, NewImpactCommand(), "S.P")
	require.NoError(t, err)
	assert.Contains(t, stdout, "# Impact of S.P")
	assert.Contains(t, stdout, "Nothing depends on this object.")
}

func TestExport(t *testing.T) {
	dir := clitest.SetupTestProject(t)

	t.Run("json", func(t *testing.T) {
		stdout, _, err := execute(t, context.Background(), testConfig(t, dir, "markdown"), NewExportCommand())
		require.NoError(t, err)

		var doc exportDocument
		require.NoError(t, json.Unmarshal([]byte(stdout), &doc))
		assert.Len(t, doc.Nodes, 4)
		assert.Equal(t, []string{"S.T", "S.OUT", "S.V", "S.P"}, doc.Order.Sequence)
		assert.Len(t, doc.Conflicts, 1)
	})

	t.Run("yaml to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "graph.yaml")
		stdout, _, err := execute(t, context.Background(), testConfig(t, dir, "markdown"), NewExportCommand(),
			"--format", "YAML", "--file", path)
		require.NoError(t, err)
		assert.Contains(t, stdout, "Wrote yaml graph to")

		var doc map[string]any
		require.NoError(t, yaml.Unmarshal([]byte(testutil.ReadFile(t, path)), &doc))
		assert.Contains(t, doc, "nodes")
		assert.Contains(t, doc, "order")
	})

	t.Run("dot", func(t *testing.T) {
		stdout, _, err := execute(t, context.Background(), testConfig(t, dir, "markdown"), NewExportCommand(), "-f", "dot")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(stdout, "digraph hdbgraph {"))
		assert.Contains(t, stdout, `"S.T" -> "S.V";`)
		assert.Contains(t, stdout, `"S.V" -> "S.P";`)
		assert.Equal(t, 2, strings.Count(stdout, "->"))
	})

	t.Run("node lineage", func(t *testing.T) {
		tests := []struct {
			node          string
			wantIDs       []string
			wantSeq       []string
			wantConflicts int
		}{
			{node: "S.V", wantIDs: []string{"S.T", "S.V", "S.P"}, wantSeq: []string{"S.T", "S.V", "S.P"}, wantConflicts: 1},
			{node: "S.T", wantIDs: []string{"S.T", "S.V", "S.P"}, wantSeq: []string{"S.T", "S.V", "S.P"}, wantConflicts: 1},
			{node: "S.OUT", wantIDs: []string{"S.OUT"}, wantSeq: []string{"S.OUT"}},
		}
		for _, tt := range tests {
			stdout, _, err := execute(t, context.Background(), testConfig(t, dir, "markdown"), NewExportCommand(),
				"--node", tt.node)
			require.NoError(t, err, tt.node)

			var doc exportDocument
			require.NoError(t, json.Unmarshal([]byte(stdout), &doc), tt.node)
			ids := make([]string, 0, len(doc.Nodes))
			for _, n := range doc.Nodes {
				ids = append(ids, n.ID)
			}
			assert.ElementsMatch(t, tt.wantIDs, ids, tt.node)
			assert.Equal(t, tt.wantSeq, doc.Order.Sequence, tt.node)
			assert.Len(t, doc.Conflicts, tt.wantConflicts, tt.node)
		}
	})

	t.Run("node lineage as dot", func(t *testing.T) {
		stdout, _, err := execute(t, context.Background(), testConfig(t, dir, "markdown"), NewExportCommand(),
			"-f", "dot", "--node", "S.P")
		require.NoError(t, err)
		assert.Contains(t, stdout, `"S.T" -> "S.V";`)
		assert.NotContains(t, stdout, `"S.OUT"`)
	})

	t.Run("unknown node", func(t *testing.T) {
		_, _, err := execute(t, context.Background(), testConfig(t, dir, "markdown"), NewExportCommand(), "--node", "S.NOPE")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `object "S.NOPE" not found`)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, _, err := execute(t, context.Background(), testConfig(t, dir, "markdown"), NewExportCommand(), "--format", "csv")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown export format")
	})
}

func TestWatch_RemoteSourceRejected(t *testing.T) {
	cfg := testConfig(t, "s3://bucket/prefix", "markdown")
	cfg.Source.S3.Endpoint = "http://127.0.0.1:1"
	cfg.Source.S3.Region = "us-east-1"

	_, _, err := execute(t, context.Background(), cfg, NewWatchCommand())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only local directories can be watched")
}

func TestWatch_PrintsInitialStatus(t *testing.T) {
	cfg := testConfig(t, clitest.SetupTestProject(t), "json")
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	stdout, _, err := execute(t, ctx, cfg, NewWatchCommand())
	require.NoError(t, err)

	var status reloadStatus
	line, _, _ := strings.Cut(stdout, "\n}")
	require.NoError(t, json.Unmarshal([]byte(line+"\n}"), &status))
	assert.Equal(t, 2, status.Artifacts)
	assert.Equal(t, 4, status.Nodes)
	assert.Equal(t, 1, status.Errors)
	assert.Empty(t, status.Changed)
}

func TestServe_StopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := testConfig(t, clitest.SetupTestProject(t), "markdown")
	cfg.API.Port = port
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	stdout, _, err := execute(t, ctx, cfg, NewServeCommand())
	require.NoError(t, err)
	assert.Contains(t, stdout, "Serving ")
	assert.Contains(t, stdout, "Press Ctrl+C to stop")
}

func TestReportHelpers(t *testing.T) {
	tr := clitest.NewTestRendererMarkdown()
	orderList(tr.Renderer, []string{"A", "B"}, []string{"C"})
	assert.Equal(t, "1. A\n2. B\n\n## Unresolved (cycles)\n\n- C\n", tr.Output())

	text := clitest.NewTestRendererText()
	printReload(text.Renderer, reloadStatus{Time: time.Now(), Changed: []string{"a", "b"}, Nodes: 3, Unresolved: 2, Errors: 1})
	assert.Contains(t, text.Output(), "3 nodes, 0 edges (2 files changed), 2 in cycles, 1 load error")
}

func TestCommandMetadata(t *testing.T) {
	cmds := []*cobra.Command{
		NewAnalyzeCommand(),
		NewOrderCommand(),
		NewDescribeCommand(),
		NewImpactCommand(),
		NewUpstreamCommand(),
		NewExportCommand(),
		NewHistoryCommand(),
		NewShowCommand(),
		NewWatchCommand(),
		NewServeCommand(),
		NewInitCommand(),
	}
	for _, cmd := range cmds {
		t.Run(cmd.Name(), func(t *testing.T) {
			assert.NotEmpty(t, cmd.Use)
			assert.NotEmpty(t, cmd.Short)
			assert.NotEmpty(t, cmd.Long)
		})
	}
}

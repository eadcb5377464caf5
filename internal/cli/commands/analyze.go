package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/hdbgraph/internal/artifact"
	"github.com/leapstack-labs/hdbgraph/internal/cli/output"
	"github.com/leapstack-labs/hdbgraph/internal/loader"
	"github.com/leapstack-labs/hdbgraph/internal/state"
)

// AnalyzeOptions holds options for the analyze command.
type AnalyzeOptions struct {
	Save  bool
	Label string
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand() *cobra.Command {
	opts := &AnalyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Parse artifacts and build the dependency graph",
		Long: `Load every calculation view, SQL view and procedure below the artifacts
directory, merge them into one dependency graph and compute a build order.

Files that fail to parse are reported as warnings and do not stop the
analysis. Use --save to record the result in the state database; saved
runs are listed by 'hdbgraph history'.`,
		Example: `  # Analyze the current project
  hdbgraph analyze

  # Analyze a bucket and keep the result
  hdbgraph analyze --artifacts-dir s3://hana-exports/prod --save --label nightly

  # Output as JSON
  hdbgraph analyze --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalyze(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Save, "save", false, "Save the run to the state database")
	cmd.Flags().StringVar(&opts.Label, "label", "", "Label for the saved run")

	return cmd
}

func runAnalyze(cmd *cobra.Command, opts *AnalyzeOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	res, err := cmdCtx.Load(ctx)
	if err != nil {
		return err
	}

	out := buildAnalyzeOutput(cmdCtx.Cfg.ArtifactsDir, res)

	if opts.Save {
		store, err := cmdCtx.OpenStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		run, err := store.SaveRun(ctx, state.Record{
			Label:      opts.Label,
			Source:     cmdCtx.Cfg.ArtifactsDir,
			Graph:      res.Graph(),
			Artifacts:  artifactRecords(res),
			LoadErrors: len(res.Errors),
		})
		if err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
		out.RunID = run.ID
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}
	analyzeReport(r, out)
	return nil
}

func buildAnalyzeOutput(src string, res *loader.Result) *output.AnalyzeOutput {
	g := res.Graph()
	order := g.Order()

	out := &output.AnalyzeOutput{
		Source:     src,
		Artifacts:  len(res.Artifacts),
		Nodes:      g.Len(),
		Edges:      g.EdgeCount(),
		Kinds:      make(map[string]int),
		Conflicts:  []output.ConflictOutput{},
		Errors:     []output.LoadErrorOutput{},
		Skipped:    nonNil(res.Skipped),
		Sequence:   nonNil(order.Sequence),
		Unresolved: nonNil(order.Unresolved),
	}
	for kind, n := range g.CountByKind() {
		out.Kinds[string(kind)] = n
	}
	for _, c := range res.Conflicts() {
		kinds := make([]string, len(c.Kinds))
		for i, k := range c.Kinds {
			kinds[i] = string(k)
		}
		out.Conflicts = append(out.Conflicts, output.ConflictOutput{ID: c.ID, Kinds: kinds, Placeholder: c.Placeholder()})
	}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, output.LoadErrorOutput{Path: e.Path, Error: e.Err.Error()})
	}
	return out
}

func analyzeReport(r *output.Renderer, out *output.AnalyzeOutput) {
	r.Header(1, "Analysis")
	r.KeyValue("Source", out.Source)
	r.KeyValue("Artifacts", out.Artifacts)
	r.KeyValue("Nodes", out.Nodes)
	r.KeyValue("Edges", out.Edges)
	if out.RunID != "" {
		r.KeyValue("Saved run", out.RunID)
	}
	r.Println()

	var rows [][]string
	for _, kind := range kindOrder {
		if n := out.Kinds[string(kind)]; n > 0 {
			rows = append(rows, []string{string(kind), fmt.Sprint(n)})
		}
	}
	if len(rows) > 0 {
		r.Table([]string{"Kind", "Nodes"}, rows)
	}

	// Placeholder conflicts are expected whenever a procedure reads a view.
	var conflicts []string
	for _, c := range out.Conflicts {
		if !c.Placeholder {
			conflicts = append(conflicts, fmt.Sprintf("%s: %s (kept %s)", c.ID, strings.Join(c.Kinds, ", "), c.Kinds[0]))
		}
	}
	if len(conflicts) > 0 {
		r.Header(2, "Kind conflicts")
		r.List(conflicts)
		r.Println()
	}

	if len(out.Errors) > 0 {
		r.Header(2, "Load errors")
		items := make([]string, len(out.Errors))
		for i, e := range out.Errors {
			items[i] = e.Path + ": " + e.Error
		}
		r.List(items)
		r.Println()
	}

	r.Header(2, "Build order")
	orderList(r, out.Sequence, out.Unresolved)

	if len(out.Skipped) > 0 {
		r.Println()
		r.Printf("Skipped %s.\n", output.FormatCount(len(out.Skipped), "unsupported file", "unsupported files"))
	}
}

// orderList prints the ordered sequence followed by nodes left in cycles.
func orderList(r *output.Renderer, sequence, unresolved []string) {
	for i, id := range sequence {
		r.Printf("%d. %s\n", i+1, id)
	}
	if len(unresolved) > 0 {
		r.Println()
		r.Header(2, "Unresolved (cycles)")
		r.List(unresolved)
	}
}

// artifactRecords lists the loaded files for a saved run.
func artifactRecords(res *loader.Result) []state.ArtifactRecord {
	records := make([]state.ArtifactRecord, 0, len(res.Artifacts))
	for _, a := range res.Artifacts {
		records = append(records, state.ArtifactRecord{Path: a.Path, Type: string(a.Type), Name: a.Name()})
	}
	return records
}

// artifactInputs returns the objects an artifact reads.
func artifactInputs(a *loader.Artifact) []string {
	switch {
	case a.CalcView != nil:
		return a.CalcView.ExternalInputs()
	case a.View != nil:
		return a.View.Inputs
	case a.Procedure != nil:
		return a.Procedure.Inputs()
	default:
		return nil
	}
}

// graphKind returns the kind of id in g, or "" when absent.
func graphKind(g *artifact.Graph, id string) string {
	if n, ok := g.Get(id); ok {
		return string(n.Kind)
	}
	return ""
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

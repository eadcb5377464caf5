package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/hdbgraph/internal/artifact"
	"github.com/leapstack-labs/hdbgraph/internal/cli/output"
	intconfig "github.com/leapstack-labs/hdbgraph/internal/config"
	"github.com/leapstack-labs/hdbgraph/internal/state"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List saved analysis runs",
		Long: `List runs saved with 'hdbgraph analyze --save', newest first.

Use 'hdbgraph show <run-id>' for the details of one run and
'hdbgraph history rm <run-id>' to delete it.`,
		Example: `  # Last 20 runs
  hdbgraph history

  # Every run, as JSON
  hdbgraph history --limit 0 --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", intconfig.DefaultHistoryLimit, "Number of runs to show (0 = all)")
	cmd.AddCommand(newHistoryRemoveCommand())

	return cmd
}

func newHistoryRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <run-id>",
		Aliases: []string{"delete"},
		Short:   "Delete a saved run",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			store, err := cmdCtx.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.DeleteRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmdCtx.Renderer.Success("Deleted run " + args[0])
			return nil
		},
	}
}

func runHistory(cmd *cobra.Command, limit int) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	store, err := cmdCtx.OpenStore(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(runs)
	}

	r.Header(1, "Saved runs")
	if len(runs) == 0 {
		r.Println("No saved runs. Use 'hdbgraph analyze --save' to record one.")
		return nil
	}
	rows := make([][]string, len(runs))
	for i, run := range runs {
		rows[i] = []string{
			run.ID,
			run.CreatedAt.Local().Format(time.DateTime),
			run.Label,
			fmt.Sprint(run.Nodes),
			fmt.Sprint(run.Edges),
			fmt.Sprint(len(run.Order.Unresolved)),
			fmt.Sprint(run.LoadErrors),
		}
	}
	r.Table([]string{"ID", "Created", "Label", "Nodes", "Edges", "Unresolved", "Errors"}, rows)
	return nil
}

// NewShowCommand creates the show command.
func NewShowCommand() *cobra.Command {
	var nodes bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a saved analysis run",
		Long: `Show the build order and loaded artifacts of a saved run. With --nodes,
the saved graph is reloaded and every node is listed with its inputs.`,
		Example: `  hdbgraph show 1b4e28ba-2fa1-11d2-883f-0016d3cca427
  hdbgraph show 1b4e28ba-2fa1-11d2-883f-0016d3cca427 --nodes --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, args[0], nodes)
		},
	}

	cmd.Flags().BoolVar(&nodes, "nodes", false, "Include the saved graph nodes")
	return cmd
}

type showOutput struct {
	*state.Run
	Graph *artifact.Graph `json:"graph,omitempty"`
}

func runShow(cmd *cobra.Command, id string, withNodes bool) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := cmdCtx.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	out := showOutput{Run: run}
	if withNodes {
		if out.Graph, err = store.LoadGraph(ctx, id); err != nil {
			return err
		}
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}

	r.Header(1, "Run "+run.ID)
	r.KeyValue("Created", run.CreatedAt.Local().Format(time.DateTime))
	if run.Label != "" {
		r.KeyValue("Label", run.Label)
	}
	if run.Source != "" {
		r.KeyValue("Source", run.Source)
	}
	r.KeyValue("Nodes", run.Nodes)
	r.KeyValue("Edges", run.Edges)
	r.KeyValue("Load errors", run.LoadErrors)
	r.Println()

	if len(run.Artifacts) > 0 {
		rows := make([][]string, len(run.Artifacts))
		for i, a := range run.Artifacts {
			rows[i] = []string{a.Name, a.Type, a.Path}
		}
		r.Header(2, "Artifacts")
		r.Table([]string{"Name", "Type", "Path"}, rows)
	}

	if out.Graph != nil {
		rows := make([][]string, 0, out.Graph.Len())
		for _, n := range out.Graph.Nodes() {
			rows = append(rows, []string{n.ID, string(n.Kind), fmt.Sprint(len(n.Inputs))})
		}
		r.Header(2, "Nodes")
		r.Table([]string{"ID", "Kind", "Inputs"}, rows)
	}

	r.Header(2, "Build order")
	orderList(r, run.Order.Sequence, run.Order.Unresolved)
	return nil
}

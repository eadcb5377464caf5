package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/hdbgraph/internal/artifact"
	"github.com/leapstack-labs/hdbgraph/internal/cli/output"
)

// NewOrderCommand creates the order command.
func NewOrderCommand() *cobra.Command {
	var levels, strict bool

	cmd := &cobra.Command{
		Use:   "order",
		Short: "Show the build order",
		Long: `Print a build order in which every object comes after the objects it
reads. Objects caught in dependency cycles cannot be ordered; they are
listed separately after the ordered part.

With --levels, objects are grouped by level instead: an object at level N
only depends on objects at lower levels, so each level can be deployed in
parallel. Levels require an acyclic graph.

With --strict, a dependency cycle is an error instead of an unresolved
tail, which suits deployment pipelines that must not proceed past one.`,
		Example: `  # Show the build order
  hdbgraph order

  # Group by deployment level
  hdbgraph order --levels

  # Fail when the graph has a cycle
  hdbgraph order --strict

  # Output as JSON
  hdbgraph order --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOrder(cmd, levels, strict)
		},
	}

	cmd.Flags().BoolVar(&levels, "levels", false, "Group objects by dependency level")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when the graph contains a dependency cycle")

	return cmd
}

func runOrder(cmd *cobra.Command, withLevels, strict bool) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}

	res, err := cmdCtx.Load(cmd.Context())
	if err != nil {
		return err
	}
	g := res.Graph()
	d := g.DAG()
	if strict {
		if _, err := d.TopologicalSort(); err != nil {
			return fmt.Errorf("no strict build order: %w", err)
		}
	}
	order := d.BestEffortOrder()

	out := output.OrderOutput{
		Sequence:   nonNil(order.Sequence),
		Unresolved: nonNil(order.Unresolved),
		Roots:      nonNil(d.GetRoots()),
		Leaves:     nonNil(d.GetLeaves()),
	}
	if withLevels {
		levels, err := d.GetExecutionLevels()
		if err != nil {
			return fmt.Errorf("cannot group into levels: %w", err)
		}
		out.Levels = levels
	}

	r := cmdCtx.Renderer
	switch {
	case r.EffectiveMode() == output.ModeJSON:
		return r.JSON(out)
	case withLevels:
		levelsReport(r, g, out.Levels)
	default:
		r.Header(1, "Build order")
		orderList(r, out.Sequence, out.Unresolved)
		r.Println()
		r.KeyValue("Sources", strings.Join(out.Roots, ", "))
		r.KeyValue("Final outputs", strings.Join(out.Leaves, ", "))
	}
	return nil
}

// levelsReport prints each level with the inputs and dependents of its
// objects.
func levelsReport(r *output.Renderer, g *artifact.Graph, levels [][]string) {
	d := g.DAG()
	styles := r.Styles()
	text := r.EffectiveMode() == output.ModeText

	r.Header(1, "Dependency levels")
	for i, level := range levels {
		name := fmt.Sprintf("Level %d", i)
		if i == 0 {
			name = "Level 0 (sources)"
		}
		r.Header(2, name)

		for _, id := range level {
			deps := d.GetParents(id)
			children := d.GetChildren(id)
			if text {
				r.Printf("  %s %s\n", styles.NodeID.Render(id), styles.Kind.Render("["+graphKind(g, id)+"]"))
				if len(deps) > 0 {
					r.Printf("    %s %s\n", styles.Muted.Render("depends on:"), strings.Join(deps, ", "))
				}
				if len(children) > 0 {
					r.Printf("    %s %s\n", styles.Muted.Render("used by:"), strings.Join(children, ", "))
				}
				continue
			}
			r.Printf("- %s [%s]\n", id, graphKind(g, id))
			if len(deps) > 0 {
				r.Printf("  - depends on: %s\n", strings.Join(deps, ", "))
			}
			if len(children) > 0 {
				r.Printf("  - used by: %s\n", strings.Join(children, ", "))
			}
		}
		r.Println()
	}
	r.KeyValue("Total", fmt.Sprintf("%s, %s",
		output.FormatCount(d.NodeCount(), "object", "objects"),
		output.FormatCount(d.EdgeCount(), "dependency", "dependencies")))
}

package commands

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/hdbgraph/internal/artifact"
	"github.com/leapstack-labs/hdbgraph/internal/cli/output"
	"github.com/leapstack-labs/hdbgraph/internal/dag"
)

// Lineage directions.
const (
	directionUpstream   = "upstream"
	directionDownstream = "downstream"
)

// NewImpactCommand creates the impact command.
func NewImpactCommand() *cobra.Command {
	var depth int

	cmd := &cobra.Command{
		Use:   "impact <id>",
		Short: "Show everything that depends on an object",
		Long: `List the objects affected by a change to the given object: its direct
dependents, their dependents, and so on.`,
		Example: `  # What breaks if SALES.ORDERS changes?
  hdbgraph impact SALES.ORDERS

  # Direct dependents only
  hdbgraph impact SALES.ORDERS --depth 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLineage(cmd, args[0], directionDownstream, depth)
		},
	}

	cmd.Flags().IntVar(&depth, "depth", 0, "Max traversal depth (0 = unlimited)")
	return cmd
}

// NewUpstreamCommand creates the upstream command.
func NewUpstreamCommand() *cobra.Command {
	var depth int

	cmd := &cobra.Command{
		Use:   "upstream <id>",
		Short: "Show everything an object depends on",
		Long:  `List the objects the given object reads, directly or transitively.`,
		Example: `  # Full upstream lineage
  hdbgraph upstream CV_SALES

  # Direct inputs only, as JSON
  hdbgraph upstream CV_SALES --depth 1 --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLineage(cmd, args[0], directionUpstream, depth)
		},
	}

	cmd.Flags().IntVar(&depth, "depth", 0, "Max traversal depth (0 = unlimited)")
	return cmd
}

func runLineage(cmd *cobra.Command, id, direction string, depth int) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}

	res, err := cmdCtx.Load(cmd.Context())
	if err != nil {
		return err
	}
	g := res.Graph()
	node, err := findNode(g, id)
	if err != nil {
		return err
	}

	out := buildLineageOutput(g, node, direction, depth)

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}

	title := "Impact of " + node.ID
	empty := "Nothing depends on this object."
	if direction == directionUpstream {
		title = "Upstream of " + node.ID
		empty = "This object has no inputs in the graph."
	}
	r.Header(1, title)
	r.KeyValue("Kind", node.Kind)
	if depth > 0 {
		r.KeyValue("Depth", depth)
	}
	r.Println()

	if len(out.Nodes) == 0 {
		r.Println(empty)
		return nil
	}
	rows := make([][]string, len(out.Nodes))
	for i, n := range out.Nodes {
		rows[i] = []string{n.ID, n.Kind}
	}
	r.Table([]string{"ID", "Kind"}, rows)
	return nil
}

func buildLineageOutput(g *artifact.Graph, node *artifact.Node, direction string, depth int) *output.LineageOutput {
	d := g.DAG()

	var ids []string
	if direction == directionUpstream {
		ids = upstreamWithDepth(d, node.ID, depth)
	} else {
		ids = downstreamWithDepth(d, node.ID, depth)
	}

	out := &output.LineageOutput{
		Root:      node.ID,
		Kind:      string(node.Kind),
		Direction: direction,
		Depth:     depth,
		Nodes:     make([]output.LineageNode, 0, len(ids)),
	}
	for _, id := range ids {
		out.Nodes = append(out.Nodes, output.LineageNode{ID: id, Kind: graphKind(g, id)})
	}
	return out
}

// upstreamWithDepth returns the sorted upstream nodes of id, limited to
// maxDepth hops when positive. id itself is excluded even inside a cycle.
func upstreamWithDepth(d *dag.Graph, id string, maxDepth int) []string {
	if maxDepth <= 0 {
		return without(d.GetUpstreamNodes(id), id)
	}
	return walk(id, maxDepth, d.GetParents)
}

// downstreamWithDepth returns the sorted dependents of id, limited to
// maxDepth hops when positive.
func downstreamWithDepth(d *dag.Graph, id string, maxDepth int) []string {
	if maxDepth <= 0 {
		return without(d.GetAffectedNodes([]string{id}), id)
	}
	return walk(id, maxDepth, d.GetChildren)
}

func walk(id string, maxDepth int, next func(string) []string) []string {
	visited := map[string]bool{id: true}
	var result []string

	frontier := []string{id}
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var following []string
		for _, cur := range frontier {
			for _, n := range next(cur) {
				if !visited[n] {
					visited[n] = true
					result = append(result, n)
					following = append(following, n)
				}
			}
		}
		frontier = following
	}
	sort.Strings(result)
	return result
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}


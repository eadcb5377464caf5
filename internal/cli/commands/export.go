package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/hdbgraph/internal/artifact"
	"github.com/leapstack-labs/hdbgraph/internal/dag"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatDOT  = "dot"
)

// ExportOptions holds options for the export command.
type ExportOptions struct {
	Format string
	File   string
	Node   string
}

// exportDocument is the json and yaml export shape.
type exportDocument struct {
	Nodes     []*artifact.Node    `json:"nodes" yaml:"nodes"`
	Order     dag.Order           `json:"order" yaml:"order"`
	Conflicts []artifact.Conflict `json:"conflicts" yaml:"conflicts"`
}

// NewExportCommand creates the export command.
func NewExportCommand() *cobra.Command {
	opts := &ExportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the dependency graph",
		Long: `Write the merged dependency graph in a machine-readable format.

Formats:
  json  nodes, build order and kind conflicts
  yaml  the same document as YAML
  dot   a Graphviz digraph with edges pointing from input to dependent

With --node, only that object, everything it reads and everything that
reads it are exported.`,
		Example: `  # Export as JSON to stdout
  hdbgraph export

  # Render with Graphviz
  hdbgraph export --format dot | dot -Tsvg > graph.svg

  # Write YAML to a file
  hdbgraph export --format yaml --file graph.yaml

  # Lineage of one view as a diagram
  hdbgraph export --format dot --node SALES.V_ORDERS`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", FormatJSON, "Export format (json|yaml|dot)")
	cmd.Flags().StringVar(&opts.File, "file", "", "Write to this file instead of stdout")
	cmd.Flags().StringVar(&opts.Node, "node", "", "Export only this object and its lineage")

	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{FormatJSON, FormatYAML, FormatDOT}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runExport(cmd *cobra.Command, opts *ExportOptions) error {
	format := strings.ToLower(opts.Format)
	switch format {
	case FormatJSON, FormatYAML, FormatDOT:
	default:
		return fmt.Errorf("unknown export format %q (want json, yaml or dot)", opts.Format)
	}

	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	res, err := cmdCtx.Load(cmd.Context())
	if err != nil {
		return err
	}

	g, conflicts := res.Graph(), res.Conflicts()
	if opts.Node != "" {
		var ok bool
		if g, ok = g.Neighborhood(opts.Node); !ok {
			return fmt.Errorf("object %q not found in the graph", opts.Node)
		}
		var kept []artifact.Conflict
		for _, c := range conflicts {
			if _, ok := g.Get(c.ID); ok {
				kept = append(kept, c)
			}
		}
		conflicts = kept
	}

	var buf bytes.Buffer
	if err := writeExport(&buf, format, g, conflicts); err != nil {
		return err
	}

	if opts.File == "" {
		_, err := buf.WriteTo(cmdCtx.Renderer.Writer())
		return err
	}
	if err := os.WriteFile(opts.File, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.File, err)
	}
	cmdCtx.Renderer.Success(fmt.Sprintf("Wrote %s graph to %s", format, opts.File))
	return nil
}

func writeExport(w io.Writer, format string, g *artifact.Graph, conflicts []artifact.Conflict) error {
	if format == FormatDOT {
		return writeDOT(w, g)
	}

	doc := exportDocument{Nodes: g.Nodes(), Order: g.Order(), Conflicts: conflicts}
	if doc.Order.Sequence == nil {
		doc.Order.Sequence = []string{}
	}
	if doc.Order.Unresolved == nil {
		doc.Order.Unresolved = []string{}
	}

	if format == FormatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// dotShapes maps kinds to Graphviz node shapes.
var dotShapes = map[artifact.Kind]string{
	artifact.CalcView:  "component",
	artifact.SQLView:   "box",
	artifact.Procedure: "cds",
	artifact.Table:     "cylinder",
}

// writeDOT writes g as a Graphviz digraph. Inputs that are not nodes of g
// are left out, as they are for ordering.
func writeDOT(w io.Writer, g *artifact.Graph) error {
	var b strings.Builder
	b.WriteString("digraph hdbgraph {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [fontname=\"Helvetica\"];\n")

	for _, n := range g.Nodes() {
		fmt.Fprintf(&b, "  %s [shape=%s, label=%s];\n",
			strconv.Quote(n.ID), dotShapes[n.Kind], strconv.Quote(n.ID+"\n"+string(n.Kind)))
	}
	for _, n := range g.Nodes() {
		seen := make(map[string]bool, len(n.Inputs))
		for _, in := range n.Inputs {
			if _, ok := g.Get(in); ok && !seen[in] {
				seen[in] = true
				fmt.Fprintf(&b, "  %s -> %s;\n", strconv.Quote(in), strconv.Quote(n.ID))
			}
		}
	}
	b.WriteString("}\n")

	_, err := io.WriteString(w, b.String())
	return err
}

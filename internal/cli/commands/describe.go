package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/hdbgraph/internal/calcview"
	"github.com/leapstack-labs/hdbgraph/internal/cli/output"
	"github.com/leapstack-labs/hdbgraph/internal/loader"
	"github.com/leapstack-labs/hdbgraph/internal/procedure"
	"github.com/leapstack-labs/hdbgraph/internal/sqlview"
	"github.com/leapstack-labs/hdbgraph/internal/summary"
)

// NewDescribeCommand creates the describe command.
func NewDescribeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "describe [artifact]",
		Short: "Describe loaded artifacts",
		Long: `Without arguments, list every loaded artifact with its type and inputs.

With an artifact name or path, show the facts extracted from it (columns,
parameters, reads and writes, calculation nodes) followed by a short
plain-language summary.`,
		Example: `  # List all artifacts
  hdbgraph describe

  # Describe one procedure
  hdbgraph describe SALES.P_LOAD_ORDERS

  # Describe by path, as JSON
  hdbgraph describe cv/CV_SALES.hdbcalculationview --output json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			res, err := cmdCtx.Load(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return listArtifacts(cmdCtx.Renderer, res)
			}
			a, ok := res.Find(args[0])
			if !ok {
				return fmt.Errorf("artifact not found: %s", args[0])
			}
			return describeArtifact(cmdCtx.Renderer, a)
		},
	}
}

func listArtifacts(r *output.Renderer, res *loader.Result) error {
	items := make([]output.ArtifactListItem, 0, len(res.Artifacts))
	for _, a := range res.Artifacts {
		items = append(items, output.ArtifactListItem{
			Name:   a.Name(),
			Type:   string(a.Type),
			Path:   a.Path,
			Inputs: nonNil(artifactInputs(a)),
		})
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(items)
	}

	r.Header(1, fmt.Sprintf("Artifacts (%d)", len(items)))
	rows := make([][]string, len(items))
	for i, item := range items {
		rows[i] = []string{item.Name, item.Type, item.Path, summary.CompactList(item.Inputs, summary.MaxListItems)}
	}
	r.Table([]string{"Name", "Type", "Path", "Inputs"}, rows)
	return nil
}

type describeOutput struct {
	*loader.Artifact
	Name    string   `json:"name"`
	Summary []string `json:"summary"`
}

func describeArtifact(r *output.Renderer, a *loader.Artifact) error {
	bullets := summary.Artifact(a)
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(describeOutput{Artifact: a, Name: a.Name(), Summary: bullets})
	}

	r.Header(1, a.Name())
	r.KeyValue("Type", a.Type)
	r.KeyValue("Path", a.Path)
	if m := a.Meta; m != nil {
		if m.Description != "" {
			r.KeyValue("Description", m.Description)
		}
		if m.Owner != "" {
			r.KeyValue("Owner", m.Owner)
		}
		if len(m.Tags) > 0 {
			r.KeyValue("Tags", strings.Join(m.Tags, ", "))
		}
		if len(m.DependsOn) > 0 {
			r.KeyValue("Declared dependencies", strings.Join(m.DependsOn, ", "))
		}
	}
	r.Println()

	switch {
	case a.CalcView != nil:
		describeCalcView(r, a.CalcView)
	case a.View != nil:
		describeView(r, a.View)
	case a.Procedure != nil:
		describeProcedure(r, a.Procedure)
	}

	if len(bullets) > 0 {
		r.Header(2, "Summary")
		r.List(bullets)
	}
	return nil
}

func describeView(r *output.Renderer, v *sqlview.View) {
	r.Header(2, fmt.Sprintf("Columns (%d)", len(v.Columns)))
	r.List(v.Columns)
	r.Println()
	r.Header(2, "Inputs")
	r.List(v.Inputs)
	r.Println()
}

func describeProcedure(r *output.Renderer, p *procedure.Procedure) {
	if len(p.Parameters) > 0 {
		rows := make([][]string, len(p.Parameters))
		for i, param := range p.Parameters {
			rows[i] = []string{string(param.Direction), param.Name, param.Type}
		}
		r.Header(2, "Parameters")
		r.Table([]string{"Direction", "Name", "Type"}, rows)
	}

	sections := []struct {
		title string
		items []string
	}{
		{"Reads", p.Reads},
		{"Writes", p.Writes},
		{"Calls", p.Calls},
		{"Temporary tables", p.TempTables},
		{"Created tables", p.CTASTargets},
	}
	for _, s := range sections {
		if len(s.items) == 0 {
			continue
		}
		r.Header(2, s.title)
		r.List(s.items)
		r.Println()
	}
}

func describeCalcView(r *output.Renderer, doc *calcview.Document) {
	if doc.Description != "" {
		r.KeyValue("Description", doc.Description)
	}
	if doc.DataCategory != "" {
		r.KeyValue("Data category", doc.DataCategory)
	}
	r.Println()

	if len(doc.DataSourceIDs) > 0 {
		rows := make([][]string, len(doc.DataSourceIDs))
		for i, id := range doc.DataSourceIDs {
			rows[i] = []string{id, doc.DataSources[id]}
		}
		r.Header(2, "Data sources")
		r.Table([]string{"ID", "Resource"}, rows)
	}

	rows := make([][]string, 0, len(doc.NodeIDs))
	for _, id := range doc.NodeIDs {
		n := doc.Nodes[id]
		rows = append(rows, []string{n.ID, string(n.Kind), strings.Join(n.Inputs, ", ")})
	}
	if len(rows) > 0 {
		r.Header(2, "Calculation nodes")
		r.Table([]string{"Node", "Kind", "Inputs"}, rows)
	}
}

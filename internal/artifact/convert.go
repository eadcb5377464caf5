package artifact

import (
	"github.com/leapstack-labs/hdbgraph/internal/calcview"
	"github.com/leapstack-labs/hdbgraph/internal/procedure"
	"github.com/leapstack-labs/hdbgraph/internal/sqlview"
)

// FromCalcView converts a calculation view: one CalcView node per
// calculation node with its inputs as written, plus a Table node for every
// data source that is not also a node.
func FromCalcView(doc *calcview.Document) *Graph {
	g := NewGraph()
	if doc == nil {
		return g
	}
	for _, id := range doc.NodeIDs {
		g.define(id, CalcView, doc.Nodes[id].Inputs)
	}

	for _, id := range doc.DataSourceIDs {
		g.placeholder(id)
	}
	return g
}

// FromViews converts SQL views: one SQLView node per view, plus a Table
// node for every referenced name that is not defined as a view.
func FromViews(views []*sqlview.View) *Graph {
	g := NewGraph()
	for _, v := range views {
		g.define(v.Name, SQLView, v.Inputs)
		for _, in := range v.Inputs {
			g.placeholder(in)
		}
	}
	return g
}

// FromProcedures converts procedures: one Procedure node per procedure
// whose inputs are its reads and calls, plus a Table node for every object
// it reads or writes that is not defined as a procedure.
func FromProcedures(procs []*procedure.Procedure) *Graph {
	g := NewGraph()
	for _, p := range procs {
		g.define(p.Name, Procedure, p.Inputs())
		for _, t := range p.Reads {
			g.placeholder(t)
		}
		for _, t := range p.Writes {
			g.placeholder(t)
		}
	}
	return g
}

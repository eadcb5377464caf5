package artifact

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/hdbgraph/internal/calcview"
	"github.com/leapstack-labs/hdbgraph/internal/procedure"
	"github.com/leapstack-labs/hdbgraph/internal/sqlview"
)

func graphOf(nodes ...Node) *Graph {
	g := NewGraph()
	for _, n := range nodes {
		g.Add(n.ID, n.Kind, n.Inputs)
	}
	return g
}

// snapshot flattens a graph into id -> (kind, inputs) for comparisons that
// ignore insertion order.
func snapshot(g *Graph) map[string]Node {
	out := make(map[string]Node, g.Len())
	for _, n := range g.Nodes() {
		out[n.ID] = *n
	}
	return out
}

func TestFromCalcView(t *testing.T) {
	doc, err := calcview.ParseBytes([]byte(`<scenario id="CV">
		<dataSources>
			<DataSource id="T2"><resourceUri>S.T2</resourceUri></DataSource>
			<DataSource id="T1"><resourceUri>S.T1</resourceUri></DataSource>
		</dataSources>
		<calculationViews>
			<calculationView id="Join_1"><input left="#T1" right="#T2"/></calculationView>
			<calculationView id="Projection_1"><input node="#Join_1"/><input node="#Join_1"/></calculationView>
		</calculationViews>
	</scenario>`))
	require.NoError(t, err)

	g := FromCalcView(doc)
	assert.Equal(t, []string{"Join_1", "Projection_1", "T2", "T1"}, g.IDs(), "data sources keep document order")

	join, ok := g.Get("Join_1")
	require.True(t, ok)
	assert.Equal(t, CalcView, join.Kind)
	assert.Equal(t, []string{"T1", "T2"}, join.Inputs)

	proj, _ := g.Get("Projection_1")
	assert.Equal(t, []string{"Join_1", "Join_1"}, proj.Inputs, "inputs are copied as written")

	t1, _ := g.Get("T1")
	assert.Equal(t, Table, t1.Kind)
	assert.Empty(t, t1.Inputs)

	assert.Equal(t, 0, FromCalcView(nil).Len())
}

func TestFromViews(t *testing.T) {
	views := []*sqlview.View{
		sqlview.Parse(`CREATE VIEW s.v2 AS SELECT a FROM s.v1 JOIN s.t ON 1=1`),
		sqlview.Parse(`CREATE VIEW s.v1 AS SELECT a FROM s.t`),
	}

	g := FromViews(views)
	assert.Equal(t, map[string]Node{
		"s.v2": {ID: "s.v2", Kind: SQLView, Inputs: []string{"s.t", "s.v1"}},
		"s.v1": {ID: "s.v1", Kind: SQLView, Inputs: []string{"s.t"}},
		"s.t":  {ID: "s.t", Kind: Table, Inputs: []string{}},
	}, snapshot(g))

	assert.Equal(t, []string{"s.v1", "s.v2"}, onlyOrdered(g, "s.v1", "s.v2"))
}

func TestFromViews_DuplicateNameUnions(t *testing.T) {
	g := FromViews([]*sqlview.View{
		sqlview.Parse(`CREATE VIEW v AS SELECT a FROM b`),
		sqlview.Parse(`CREATE VIEW v AS SELECT a FROM a`),
	})

	v, ok := g.Get("v")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, v.Inputs)
}

func TestFromProcedures(t *testing.T) {
	p := procedure.Parse(`CREATE PROCEDURE P (IN a INT, OUT b VARCHAR) AS BEGIN INSERT INTO X SELECT * FROM Y; CALL Q(); END`)

	g := FromProcedures([]*procedure.Procedure{p})
	assert.Equal(t, map[string]Node{
		"P": {ID: "P", Kind: Procedure, Inputs: []string{"Q", "Y"}},
		"Y": {ID: "Y", Kind: Table, Inputs: []string{}},
		"X": {ID: "X", Kind: Table, Inputs: []string{}},
	}, snapshot(g), "writes become Table nodes but not inputs; calls are inputs only")
}

func TestMerge(t *testing.T) {
	a := graphOf(
		Node{ID: "v", Kind: SQLView, Inputs: []string{"t2", "t1"}},
		Node{ID: "t1", Kind: Table},
	)
	b := graphOf(
		Node{ID: "v", Kind: Table, Inputs: []string{"t3", "t1"}},
		Node{ID: "p", Kind: Procedure, Inputs: []string{"v"}},
	)

	merged := Merge(a, b)
	assert.Equal(t, []string{"v", "t1", "p"}, merged.IDs())

	v, _ := merged.Get("v")
	assert.Equal(t, SQLView, v.Kind, "first-seen kind wins")
	assert.Equal(t, []string{"t1", "t2", "t3"}, v.Inputs)

	// Sources are untouched.
	av, _ := a.Get("v")
	assert.Equal(t, []string{"t2", "t1"}, av.Inputs)
	bv, _ := b.Get("v")
	assert.Equal(t, []string{"t3", "t1"}, bv.Inputs)

	assert.Equal(t, 0, Merge().Len())
	assert.Equal(t, 1, Merge(nil, graphOf(Node{ID: "x", Kind: Table})).Len())
}

func TestMerge_NeverDropsNodes(t *testing.T) {
	a := graphOf(Node{ID: "a", Kind: CalcView}, Node{ID: "shared", Kind: Table})
	b := graphOf(Node{ID: "b", Kind: SQLView}, Node{ID: "shared", Kind: SQLView})

	merged := Merge(a, b)
	for _, g := range []*Graph{a, b} {
		for _, id := range g.IDs() {
			_, ok := merged.Get(id)
			assert.True(t, ok, id)
		}
	}
}

func TestMerge_Associative(t *testing.T) {
	a := graphOf(
		Node{ID: "x", Kind: CalcView, Inputs: []string{"t", "t"}},
		Node{ID: "y", Kind: SQLView, Inputs: []string{"x"}},
	)
	b := graphOf(
		Node{ID: "y", Kind: Procedure, Inputs: []string{"z", "t"}},
		Node{ID: "z", Kind: Table},
	)
	c := graphOf(
		Node{ID: "x", Kind: Table, Inputs: []string{"u"}},
		Node{ID: "z", Kind: SQLView, Inputs: []string{"y"}},
		Node{ID: "w", Kind: Procedure, Inputs: []string{"x", "y"}},
	)

	left := Merge(Merge(a, b), c)
	right := Merge(a, Merge(b, c))
	assert.Equal(t, snapshot(left), snapshot(right))

	// The edge set does not depend on order; kinds may.
	reversed := snapshot(Merge(c, b, a))
	for id, n := range snapshot(left) {
		assert.ElementsMatch(t, n.Inputs, reversed[id].Inputs, id)
	}
}

func TestKindConflicts(t *testing.T) {
	cv := graphOf(Node{ID: "S.T", Kind: Table}, Node{ID: "Join_1", Kind: CalcView})
	views := graphOf(Node{ID: "S.T", Kind: SQLView}, Node{ID: "V", Kind: SQLView})
	procs := graphOf(Node{ID: "V", Kind: Procedure}, Node{ID: "S.T", Kind: SQLView})

	conflicts := KindConflicts(cv, views, procs)
	require.Len(t, conflicts, 2)

	assert.Equal(t, Conflict{ID: "S.T", Kinds: []Kind{Table, SQLView}}, conflicts[0])
	assert.True(t, conflicts[0].Placeholder())

	assert.Equal(t, Conflict{ID: "V", Kinds: []Kind{SQLView, Procedure}}, conflicts[1])
	assert.False(t, conflicts[1].Placeholder())

	assert.Empty(t, KindConflicts(cv))
}

func TestGraph_Order(t *testing.T) {
	g := Merge(
		FromViews([]*sqlview.View{
			sqlview.Parse(`CREATE VIEW A AS SELECT * FROM B`),
			sqlview.Parse(`CREATE VIEW B AS SELECT * FROM A`),
		}),
		graphOf(Node{ID: "C", Kind: Table}),
	)

	order := g.Order()
	assert.Len(t, order.Sequence, 3)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, order.Sequence)
	assert.Equal(t, "C", order.Sequence[0])
	assert.Equal(t, []string{"A", "B"}, order.Unresolved)
}

func TestGraph_DAGCarriesNodes(t *testing.T) {
	g := graphOf(
		Node{ID: "t", Kind: Table},
		Node{ID: "v", Kind: SQLView, Inputs: []string{"t", "external"}},
	)

	d := g.DAG()
	assert.Equal(t, 1, d.EdgeCount())
	assert.Equal(t, 1, g.EdgeCount())

	n, ok := d.GetNode("v")
	require.True(t, ok)
	assert.Equal(t, SQLView, n.Data.(*Node).Kind)
}

func TestGraph_Neighborhood(t *testing.T) {
	g := graphOf(
		Node{ID: "t", Kind: Table},
		Node{ID: "v", Kind: SQLView, Inputs: []string{"t", "external"}},
		Node{ID: "p", Kind: Procedure, Inputs: []string{"v"}},
		Node{ID: "other", Kind: Table},
		Node{ID: "w", Kind: SQLView, Inputs: []string{"other"}},
		Node{ID: "a", Kind: SQLView, Inputs: []string{"b"}},
		Node{ID: "b", Kind: SQLView, Inputs: []string{"a"}},
	)

	tests := []struct {
		name string
		id   string
		want []string
	}{
		{name: "middle of a chain", id: "v", want: []string{"t", "v", "p"}},
		{name: "source", id: "t", want: []string{"t", "v", "p"}},
		{name: "sink", id: "p", want: []string{"t", "v", "p"}},
		{name: "cycle", id: "a", want: []string{"a", "b"}},
		{name: "isolated branch", id: "w", want: []string{"other", "w"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, ok := g.Neighborhood(tt.id)
			require.True(t, ok)
			assert.Equal(t, tt.want, sub.IDs())
		})
	}

	sub, _ := g.Neighborhood("v")
	n, ok := sub.Get("v")
	require.True(t, ok)
	assert.Equal(t, []string{"t", "external"}, n.Inputs, "inputs are kept whole")

	_, ok = g.Neighborhood("external")
	assert.False(t, ok)
}

func TestGraph_JSONRoundTrip(t *testing.T) {
	g := graphOf(
		Node{ID: "v", Kind: SQLView, Inputs: []string{"t"}},
		Node{ID: "t", Kind: Table},
	)

	data, err := json.Marshal(g)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes":[
		{"id":"v","kind":"SQLView","inputs":["t"]},
		{"id":"t","kind":"Table","inputs":[]}
	]}`, string(data))

	var decoded Graph
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, g.IDs(), decoded.IDs())

	err = json.Unmarshal([]byte(`{"nodes":[{"id":"x","kind":"Bogus"}]}`), &decoded)
	assert.Error(t, err)
}

func TestCountByKind(t *testing.T) {
	g := graphOf(
		Node{ID: "a", Kind: Table},
		Node{ID: "b", Kind: Table},
		Node{ID: "c", Kind: Procedure},
	)
	assert.Equal(t, map[Kind]int{Table: 2, Procedure: 1}, g.CountByKind())
}

// onlyOrdered returns the given ids in the order they appear in g.Order().
func onlyOrdered(g *Graph, ids ...string) []string {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []string
	for _, id := range g.Order().Sequence {
		if want[id] {
			out = append(out, id)
		}
	}
	return out
}

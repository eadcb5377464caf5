// Package artifact projects every parsed artifact into one common node model
// and merges the per-artifact graphs into a single dependency graph.
//
// A Node only carries identity, a kind tag and its inputs. The richer parsed
// models (calcview.Document, sqlview.View, procedure.Procedure) stay with
// the caller.
//
// Merge policy: when the same ID arrives more than once, inputs are unioned
// and the kind seen first is kept. KindConflicts lists the IDs where that
// policy had to pick between different kinds.
package artifact

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/leapstack-labs/hdbgraph/internal/dag"
	"github.com/leapstack-labs/hdbgraph/internal/sqlscan"
)

// Kind tags the artifact type a node came from.
type Kind string

// Artifact kinds.
const (
	CalcView  Kind = "CV"
	SQLView   Kind = "SQLView"
	Procedure Kind = "Procedure"
	Table     Kind = "Table"
)

// ParseKind converts a stored kind tag back into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case CalcView, SQLView, Procedure, Table:
		return k, nil
	default:
		return "", fmt.Errorf("unknown artifact kind %q", s)
	}
}

// Node is a vertex of the unified graph.
type Node struct {
	ID     string   `json:"id"`
	Kind   Kind     `json:"kind"`
	Inputs []string `json:"inputs"`
}

// Graph is the unified dependency graph. It remembers the order in which
// IDs were first added.
type Graph struct {
	nodes map[string]*Node
	ids   []string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// Add folds a node into the graph. A new ID is inserted with a copy of
// inputs. An existing ID keeps its kind and has its inputs replaced by the
// sorted, duplicate-free union of old and new inputs.
func (g *Graph) Add(id string, kind Kind, inputs []string) {
	if existing, ok := g.nodes[id]; ok {
		existing.Inputs = sqlscan.SortedSet(existing.Inputs, inputs)
		return
	}
	g.nodes[id] = &Node{ID: id, Kind: kind, Inputs: append([]string{}, inputs...)}
	g.ids = append(g.ids, id)
}

// define inserts or refines a node produced by a converter: a Table
// placeholder is upgraded to kind, a node of the same kind has its inputs
// unioned.
func (g *Graph) define(id string, kind Kind, inputs []string) {
	if existing, ok := g.nodes[id]; ok && existing.Kind == Table {
		existing.Kind = kind
		existing.Inputs = append([]string{}, inputs...)
		return
	}
	g.Add(id, kind, inputs)
}

// placeholder registers id as a Table with no inputs unless it is present.
func (g *Graph) placeholder(id string) {
	if _, ok := g.nodes[id]; !ok {
		g.Add(id, Table, nil)
	}
}

// Get returns the node with the given ID.
func (g *Graph) Get(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.ids)
}

// IDs returns node IDs in insertion order.
func (g *Graph) IDs() []string {
	return append([]string(nil), g.ids...)
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, 0, len(g.ids))
	for _, id := range g.ids {
		nodes = append(nodes, g.nodes[id])
	}
	return nodes
}

// EdgeCount returns the number of distinct inputs that resolve to a node of
// the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, n := range g.nodes {
		seen := make(map[string]bool, len(n.Inputs))
		for _, in := range n.Inputs {
			if _, ok := g.nodes[in]; ok && !seen[in] {
				seen[in] = true
				count++
			}
		}
	}
	return count
}

// CountByKind returns how many nodes carry each kind.
func (g *Graph) CountByKind() map[Kind]int {
	counts := make(map[Kind]int)
	for _, n := range g.nodes {
		counts[n.Kind]++
	}
	return counts
}

// DAG converts the graph for traversal. Each dag node carries its *Node as
// Data; inputs naming IDs outside the graph are dropped.
func (g *Graph) DAG() *dag.Graph {
	d := dag.FromDependencies(g.ids, func(id string) []string {
		return g.nodes[id].Inputs
	})
	for _, id := range g.ids {
		d.AddNode(id, g.nodes[id])
	}
	return d
}

// Neighborhood returns the part of g connected to id: id itself, every
// object it reads directly or transitively and every object that reads it.
// Nodes keep their insertion order and their full input lists. ok is false
// when id is not a node of g.
func (g *Graph) Neighborhood(id string) (*Graph, bool) {
	d := g.DAG()
	if _, ok := d.GetNode(id); !ok {
		return nil, false
	}
	keep := append(d.GetUpstreamNodes(id), d.GetAffectedNodes([]string{id})...)
	sub := d.Subgraph(keep)

	out := NewGraph()
	for _, nid := range g.ids {
		if dn, ok := sub.GetNode(nid); ok {
			n := dn.Data.(*Node)
			out.Add(n.ID, n.Kind, n.Inputs)
		}
	}
	return out, true
}

// Order returns the best-effort build order of the graph.
func (g *Graph) Order() dag.Order {
	return g.DAG().BestEffortOrder()
}

type graphJSON struct {
	Nodes []*Node `json:"nodes"`
}

// MarshalJSON encodes the graph as {"nodes": [...]} in insertion order.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(graphJSON{Nodes: g.Nodes()})
}

// UnmarshalJSON decodes the MarshalJSON form, folding nodes with Add.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var raw graphJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*g = *NewGraph()
	for _, n := range raw.Nodes {
		if _, err := ParseKind(string(n.Kind)); err != nil {
			return err
		}
		g.Add(n.ID, n.Kind, n.Inputs)
	}
	return nil
}

// Merge folds graphs left to right into a new graph. Input graphs are not
// modified.
func Merge(graphs ...*Graph) *Graph {
	merged := NewGraph()
	for _, g := range graphs {
		if g == nil {
			continue
		}
		for _, n := range g.Nodes() {
			merged.Add(n.ID, n.Kind, n.Inputs)
		}
	}
	return merged
}

// Conflict records an ID that arrived with more than one kind during a
// merge. Kinds lists every distinct kind in arrival order; the first one
// is the kind the merged node kept.
type Conflict struct {
	ID    string `json:"id"`
	Kinds []Kind `json:"kinds"`
}

// Placeholder reports whether the conflict only involves a Table
// placeholder, as when a procedure reads a view defined elsewhere.
func (c Conflict) Placeholder() bool {
	defined := 0
	for _, k := range c.Kinds {
		if k != Table {
			defined++
		}
	}
	return defined <= 1
}

// KindConflicts returns, sorted by ID, every ID that Merge(graphs...)
// would see with different kinds.
func KindConflicts(graphs ...*Graph) []Conflict {
	kinds := make(map[string][]Kind)
	for _, g := range graphs {
		if g == nil {
			continue
		}
		for _, n := range g.Nodes() {
			seen := kinds[n.ID]
			dup := false
			for _, k := range seen {
				if k == n.Kind {
					dup = true
					break
				}
			}
			if !dup {
				kinds[n.ID] = append(seen, n.Kind)
			}
		}
	}

	conflicts := []Conflict{}
	for id, ks := range kinds {
		if len(ks) > 1 {
			conflicts = append(conflicts, Conflict{ID: id, Kinds: ks})
		}
	}
	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].ID < conflicts[j].ID
	})
	return conflicts
}

// Package calcview decodes calculation-view documents (.hdbcalculationview)
// into a typed node graph.
//
// Two document shapes are accepted: the simplified layout where parameters,
// filters and join types are plain elements and attributes, and the layout
// written by the HANA modeler (localVariables, columnObject data sources,
// descriptions/@defaultDescription, baseMeasures). Missing sections decode
// to empty collections. Only a document that is not well-formed XML is an
// error.
package calcview

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/leapstack-labs/hdbgraph/internal/dag"
)

// UnknownID is used when the root element carries no id.
const UnknownID = "UNKNOWN"

// Kind classifies a calculation node.
type Kind string

// Node kinds.
const (
	Projection  Kind = "Projection"
	Join        Kind = "Join"
	Aggregation Kind = "Aggregation"
	Union       Kind = "Union"
	Other       Kind = "Other"
)

// KindOf maps a declared node type (namespace prefix already removed) to
// its Kind.
func KindOf(nodeType string) Kind {
	switch nodeType {
	case "ProjectionView", "Projection":
		return Projection
	case "JoinView", "Join":
		return Join
	case "AggregationView", "Aggregation":
		return Aggregation
	case "UnionView", "Union":
		return Union
	default:
		return Other
	}
}

// Mapping maps a source column of an input to a target column of the node.
type Mapping struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Node is one computation step of a calculation view.
type Node struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
	// Type is the declared type with any namespace prefix removed,
	// e.g. "JoinView".
	Type                 string            `json:"type"`
	Attributes           []string          `json:"attributes"`
	Measures             []string          `json:"measures"`
	CalculatedMeasures   map[string]string `json:"calculated_measures"`
	CalculatedAttributes map[string]string `json:"calculated_attributes"`
	Filters              []string          `json:"filters"`
	JoinType             string            `json:"join_type,omitempty"`
	JoinCondition        string            `json:"join_condition,omitempty"`
	// Inputs reference sibling nodes or data sources, in document order
	// and without de-duplication.
	Inputs   []string  `json:"inputs"`
	Mappings []Mapping `json:"mappings"`
}

// Parameter is an input parameter of the view. Values are kept as written.
type Parameter struct {
	ID           string `json:"id"`
	SQLType      string `json:"sql_type"`
	DefaultValue string `json:"default_value"`
	Mandatory    string `json:"mandatory"`
}

// Document is a decoded calculation view.
type Document struct {
	ID             string      `json:"id"`
	Description    string      `json:"description"`
	OutputViewType string      `json:"output_view_type"`
	DataCategory   string      `json:"data_category"`
	Parameters     []Parameter `json:"parameters"`
	// DataSources maps a data source id to its resource URI.
	DataSources map[string]string `json:"data_sources"`
	// DataSourceIDs lists data source IDs in document order.
	DataSourceIDs []string `json:"data_source_ids"`
	// Nodes is keyed by node ID.
	Nodes map[string]*Node `json:"nodes"`
	// NodeIDs lists node IDs in document order.
	NodeIDs           []string `json:"node_ids"`
	LogicalAttributes []string `json:"logical_attributes"`
	LogicalMeasures   []string `json:"logical_measures"`
}

// ParseError reports a document that could not be decoded.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed calculation view: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse decodes a calculation view from r.
func Parse(r io.Reader) (*Document, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	var raw xmlScenario
	if err := dec.Decode(&raw); err != nil {
		return nil, &ParseError{Err: err}
	}
	if err := checkTrailing(dec); err != nil {
		return nil, &ParseError{Err: err}
	}
	return raw.document(), nil
}

// checkTrailing consumes the rest of the input. Only whitespace, comments
// and processing instructions may follow the root element.
func checkTrailing(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return fmt.Errorf("junk after document element: <%s>", t.Name.Local)
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return fmt.Errorf("junk after document element: %q", strings.TrimSpace(string(t)))
			}
		}
	}
}

// ParseBytes decodes a calculation view held in memory.
func ParseBytes(data []byte) (*Document, error) {
	return Parse(bytes.NewReader(data))
}

// ParseFile decodes the calculation view stored at path.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open calculation view: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Parse(f)
}

// NodeOrder returns the document's nodes ordered so that every node comes
// after the sibling nodes it reads from. Data-source inputs do not take
// part in ordering.
func (d *Document) NodeOrder() dag.Order {
	g := dag.FromDependencies(d.NodeIDs, func(id string) []string {
		return d.Nodes[id].Inputs
	})
	return g.BestEffortOrder()
}

// ExternalInputs returns the input IDs that name neither a node nor a data
// source of this document, sorted.
func (d *Document) ExternalInputs() []string {
	seen := make(map[string]bool)
	external := []string{}
	for _, id := range d.NodeIDs {
		for _, in := range d.Nodes[id].Inputs {
			if _, ok := d.Nodes[in]; ok {
				continue
			}
			if _, ok := d.DataSources[in]; ok {
				continue
			}
			if !seen[in] {
				seen[in] = true
				external = append(external, in)
			}
		}
	}
	sort.Strings(external)
	return external
}

// stripPrefix removes a namespace prefix: "Calculation:JoinView" -> "JoinView".
func stripPrefix(s string) string {
	if i := strings.LastIndex(s, ":"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// stripMarker removes the leading '#' of an input reference.
func stripMarker(ref string) string {
	return strings.TrimPrefix(strings.TrimSpace(ref), "#")
}

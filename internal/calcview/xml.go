package calcview

import (
	"encoding/xml"
	"strings"
)

// Raw XML shapes. Element and attribute names are matched on their local
// part so namespaced modeler output decodes the same way as plain files.

type xmlScenario struct {
	ID             string `xml:"id,attr"`
	Description    string `xml:"description,attr"`
	OutputViewType string `xml:"outputViewType,attr"`
	DataCategory   string `xml:"dataCategory,attr"`

	Descriptions struct {
		Default string `xml:"defaultDescription,attr"`
	} `xml:"descriptions"`

	Parameters       []xmlParameter  `xml:"parameters>parameter"`
	LocalVariables   []xmlVariable   `xml:"localVariables>variable"`
	DataSources      []xmlDataSource `xml:"dataSources>DataSource"`
	CalculationViews struct {
		Nodes []xmlNode `xml:",any"`
	} `xml:"calculationViews"`
	LogicalModel xmlLogicalModel `xml:"logicalModel"`
}

type xmlParameter struct {
	ID           string  `xml:"id,attr"`
	SQLType      string  `xml:"sqlType,attr"`
	DefaultValue string  `xml:"defaultValue,attr"`
	IsMandatory  *string `xml:"isMandatory,attr"`
}

type xmlVariable struct {
	ID          string `xml:"id,attr"`
	IsParameter string `xml:"parameter,attr"`
	Properties  struct {
		Datatype     string `xml:"datatype,attr"`
		Mandatory    string `xml:"mandatory,attr"`
		DefaultValue string `xml:"defaultValue,attr"`
	} `xml:"variableProperties"`
}

type xmlDataSource struct {
	ID           string `xml:"id,attr"`
	ResourceURI  string `xml:"resourceUri"`
	ColumnObject struct {
		SchemaName string `xml:"schemaName,attr"`
		Name       string `xml:"columnObjectName,attr"`
	} `xml:"columnObject"`
}

type xmlID struct {
	ID string `xml:"id,attr"`
}

type xmlCalculated struct {
	ID      string `xml:"id,attr"`
	Formula string `xml:"formula"`
}

type xmlNode struct {
	XMLName      xml.Name
	ID           string `xml:"id,attr"`
	Type         string `xml:"type,attr"`
	JoinTypeAttr string `xml:"joinType,attr"`

	ViewAttributes       []xmlID         `xml:"viewAttributes>viewAttribute"`
	Measures             []xmlID         `xml:"measures>measure"`
	CalculatedMeasures   []xmlCalculated `xml:"calculatedMeasures>calculatedMeasure"`
	CalculatedAttributes []xmlCalculated `xml:"calculatedViewAttributes>calculatedViewAttribute"`
	Filters              []string        `xml:"filters>filter"`
	Filter               []string        `xml:"filter"`
	JoinType             string          `xml:"joinType"`
	Inputs               []xmlInput      `xml:"input"`
}

type xmlInput struct {
	Left          string       `xml:"left,attr"`
	Right         string       `xml:"right,attr"`
	Node          string       `xml:"node,attr"`
	JoinCondition string       `xml:"joinCondition>expression"`
	Mappings      []xmlMapping `xml:"mapping"`
}

type xmlMapping struct {
	Source string `xml:"source,attr"`
	Target string `xml:"target,attr"`
}

type xmlLogicalModel struct {
	Attributes   []xmlID `xml:"attributes>attribute"`
	Measures     []xmlID `xml:"measures>measure"`
	BaseMeasures []xmlID `xml:"baseMeasures>measure"`
}

func (s *xmlScenario) document() *Document {
	doc := &Document{
		ID:                s.ID,
		Description:       s.Description,
		OutputViewType:    s.OutputViewType,
		DataCategory:      s.DataCategory,
		Parameters:        []Parameter{},
		DataSources:       make(map[string]string),
		Nodes:             make(map[string]*Node),
		DataSourceIDs:     []string{},
		NodeIDs:           []string{},
		LogicalAttributes: []string{},
		LogicalMeasures:   []string{},
	}
	if doc.ID == "" {
		doc.ID = UnknownID
	}
	if doc.Description == "" {
		doc.Description = s.Descriptions.Default
	}

	for _, p := range s.Parameters {
		mandatory := "false"
		if p.IsMandatory != nil {
			mandatory = *p.IsMandatory
		}
		doc.Parameters = append(doc.Parameters, Parameter{
			ID:           p.ID,
			SQLType:      p.SQLType,
			DefaultValue: p.DefaultValue,
			Mandatory:    mandatory,
		})
	}
	for _, v := range s.LocalVariables {
		if v.IsParameter != "true" {
			continue
		}
		mandatory := v.Properties.Mandatory
		if mandatory == "" {
			mandatory = "false"
		}
		doc.Parameters = append(doc.Parameters, Parameter{
			ID:           v.ID,
			SQLType:      v.Properties.Datatype,
			DefaultValue: v.Properties.DefaultValue,
			Mandatory:    mandatory,
		})
	}

	for _, ds := range s.DataSources {
		if ds.ID == "" {
			continue
		}
		if _, dup := doc.DataSources[ds.ID]; !dup {
			doc.DataSourceIDs = append(doc.DataSourceIDs, ds.ID)
		}
		doc.DataSources[ds.ID] = ds.location()
	}

	for i := range s.CalculationViews.Nodes {
		raw := &s.CalculationViews.Nodes[i]
		if raw.ID == "" {
			continue
		}
		if _, dup := doc.Nodes[raw.ID]; !dup {
			doc.NodeIDs = append(doc.NodeIDs, raw.ID)
		}
		doc.Nodes[raw.ID] = raw.node()
	}

	for _, a := range s.LogicalModel.Attributes {
		if a.ID != "" {
			doc.LogicalAttributes = append(doc.LogicalAttributes, a.ID)
		}
	}
	for _, m := range append(s.LogicalModel.Measures, s.LogicalModel.BaseMeasures...) {
		if m.ID != "" {
			doc.LogicalMeasures = append(doc.LogicalMeasures, m.ID)
		}
	}

	return doc
}

// location prefers resourceUri and falls back to "schema.object" for
// columnObject sources.
func (ds *xmlDataSource) location() string {
	if uri := strings.TrimSpace(ds.ResourceURI); uri != "" {
		return uri
	}
	obj := ds.ColumnObject
	switch {
	case obj.SchemaName != "" && obj.Name != "":
		return obj.SchemaName + "." + obj.Name
	default:
		return obj.Name
	}
}

func (n *xmlNode) node() *Node {
	nodeType := n.Type
	if nodeType == "" {
		nodeType = n.XMLName.Local
	}
	nodeType = stripPrefix(nodeType)

	node := &Node{
		ID:                   n.ID,
		Kind:                 KindOf(nodeType),
		Type:                 nodeType,
		Attributes:           []string{},
		Measures:             []string{},
		CalculatedMeasures:   make(map[string]string),
		CalculatedAttributes: make(map[string]string),
		Filters:              []string{},
		JoinType:             strings.TrimSpace(n.JoinType),
		Inputs:               []string{},
		Mappings:             []Mapping{},
	}
	if node.JoinType == "" {
		node.JoinType = n.JoinTypeAttr
	}

	for _, a := range n.ViewAttributes {
		node.Attributes = append(node.Attributes, a.ID)
	}
	for _, m := range n.Measures {
		node.Measures = append(node.Measures, m.ID)
	}
	for _, cm := range n.CalculatedMeasures {
		node.CalculatedMeasures[cm.ID] = strings.TrimSpace(cm.Formula)
	}
	for _, ca := range n.CalculatedAttributes {
		node.CalculatedAttributes[ca.ID] = strings.TrimSpace(ca.Formula)
	}
	for _, f := range append(n.Filters, n.Filter...) {
		if f = strings.TrimSpace(f); f != "" {
			node.Filters = append(node.Filters, f)
		}
	}

	for _, in := range n.Inputs {
		for _, ref := range []string{in.Left, in.Right, in.Node} {
			if ref != "" {
				node.Inputs = append(node.Inputs, stripMarker(ref))
			}
		}
		if cond := strings.TrimSpace(in.JoinCondition); cond != "" {
			node.JoinCondition = cond
		}
		for _, m := range in.Mappings {
			if m.Source != "" && m.Target != "" {
				node.Mappings = append(node.Mappings, Mapping{Source: m.Source, Target: m.Target})
			}
		}
	}

	return node
}

package output

// AnalyzeOutput is the JSON form of the analyze command.
type AnalyzeOutput struct {
	Source     string            `json:"source"`
	Artifacts  int               `json:"artifacts"`
	Nodes      int               `json:"nodes"`
	Edges      int               `json:"edges"`
	Kinds      map[string]int    `json:"kinds"`
	Conflicts  []ConflictOutput  `json:"conflicts"`
	Errors     []LoadErrorOutput `json:"errors"`
	Skipped    []string          `json:"skipped"`
	Sequence   []string          `json:"sequence"`
	Unresolved []string          `json:"unresolved"`
	RunID      string            `json:"run_id,omitempty"`
}

// ConflictOutput is an ID seen with more than one kind.
type ConflictOutput struct {
	ID          string   `json:"id"`
	Kinds       []string `json:"kinds"`
	Placeholder bool     `json:"placeholder"`
}

// LoadErrorOutput is a file that failed to load.
type LoadErrorOutput struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// OrderOutput is the JSON form of the order command.
type OrderOutput struct {
	Sequence   []string   `json:"sequence"`
	Unresolved []string   `json:"unresolved"`
	Roots      []string   `json:"roots"`
	Leaves     []string   `json:"leaves"`
	Levels     [][]string `json:"levels,omitempty"`
}

// LineageOutput is the JSON form of the impact and upstream commands.
type LineageOutput struct {
	Root      string        `json:"root"`
	Kind      string        `json:"kind"`
	Direction string        `json:"direction"`
	Depth     int           `json:"depth,omitempty"`
	Nodes     []LineageNode `json:"nodes"`
}

// LineageNode is one node reached from the root.
type LineageNode struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// ArtifactListItem is one row of describe without arguments.
type ArtifactListItem struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Path   string   `json:"path"`
	Inputs []string `json:"inputs"`
}

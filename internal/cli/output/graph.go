package output

// GraphOutput is the JSON and YAML form of the macro reference graph.
type GraphOutput struct {
	Levels     []GraphLevel `json:"levels,omitempty" yaml:"levels,omitempty"`
	Cycle      []string     `json:"cycle,omitempty" yaml:"cycle,omitempty"`
	Nodes      []GraphNode  `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	Undefined  []string     `json:"undefined,omitempty" yaml:"undefined,omitempty"`
	TotalNodes int          `json:"total_nodes" yaml:"total_nodes"`
	TotalEdges int          `json:"total_edges" yaml:"total_edges"`
}

// GraphLevel groups macros at one reference depth.
type GraphLevel struct {
	Level  int         `json:"level" yaml:"level"`
	Macros []GraphNode `json:"macros" yaml:"macros"`
}

// GraphNode is one macro with its direct references.
type GraphNode struct {
	Name      string   `json:"name" yaml:"name"`
	Defined   bool     `json:"defined" yaml:"defined"`
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	UsedBy    []string `json:"used_by,omitempty" yaml:"used_by,omitempty"`
}

// DepsOutput is the JSON and YAML form of one macro's references.
type DepsOutput struct {
	Root       string      `json:"root" yaml:"root"`
	Body       string      `json:"body" yaml:"body"`
	Upstream   []string    `json:"upstream,omitempty" yaml:"upstream,omitempty"`
	Downstream []string    `json:"downstream,omitempty" yaml:"downstream,omitempty"`
	Edges      []GraphEdge `json:"edges" yaml:"edges"`
	Undefined  []string    `json:"undefined,omitempty" yaml:"undefined,omitempty"`
}

// GraphEdge records that To refers to From.
type GraphEdge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

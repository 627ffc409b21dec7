package crawler

// NodeType is the renderer hint attached to every node and edge.
const NodeType = "custom"

// Position is a logical 2D coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData carries the descriptive fields of a node.
type NodeData struct {
	Label          string `json:"label"`
	URL            string `json:"url"`
	Title          string `json:"title"`
	Depth          int    `json:"depth"`
	IsIntermediate bool   `json:"isIntermediate"`
}

// GraphNode is one vertex of the site map.
type GraphNode struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// GraphEdge links a parent node to a child node.
type GraphEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// GraphMetadata summarizes a graph.
type GraphMetadata struct {
	TotalNodes int `json:"totalNodes"`
	TotalEdges int `json:"totalEdges"`
	MaxDepth   int `json:"maxDepth"`
}

// Graph is the derived site map handed to result sinks.
type Graph struct {
	Nodes    []GraphNode   `json:"nodes"`
	Edges    []GraphEdge   `json:"edges"`
	Metadata GraphMetadata `json:"metadata"`
}

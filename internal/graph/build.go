package graph

import (
	"fmt"
	"net/url"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

const noTitleLabel = "No Title"

// Build derives the site-map graph from unique page records. Parents that were
// never crawled are synthesized as intermediate nodes when the child URL sits
// below them in the path hierarchy. Node ids are positional within this build:
// synthesized nodes come first, then real pages in input order.
func Build(records []crawler.PageRecord) crawler.Graph {
	if len(records) == 0 {
		return crawler.Graph{
			Nodes: []crawler.GraphNode{},
			Edges: []crawler.GraphEdge{},
		}
	}

	crawled := make(map[string]struct{}, len(records))
	for _, rec := range records {
		crawled[rec.URL] = struct{}{}
	}

	var synthesized []crawler.GraphNode
	seenSynth := make(map[string]struct{})
	for _, rec := range records {
		if rec.ParentURL == "" {
			continue
		}
		if _, ok := crawled[rec.ParentURL]; ok {
			continue
		}
		if _, ok := seenSynth[rec.ParentURL]; ok {
			continue
		}
		node, ok := intermediateNode(rec.ParentURL, rec.URL)
		if !ok {
			continue
		}
		seenSynth[rec.ParentURL] = struct{}{}
		synthesized = append(synthesized, node)
	}

	nodes := make([]crawler.GraphNode, 0, len(synthesized)+len(records))
	nodes = append(nodes, synthesized...)
	for _, rec := range records {
		label := rec.Title
		if label == "" {
			label = noTitleLabel
		}
		nodes = append(nodes, crawler.GraphNode{
			Type: crawler.NodeType,
			Data: crawler.NodeData{
				Label: label,
				URL:   rec.URL,
				Title: rec.Title,
				Depth: rec.Depth,
			},
		})
	}

	index := make(map[string]int, len(nodes))
	for i := range nodes {
		nodes[i].ID = fmt.Sprintf("node-%d", i)
		if _, dup := index[nodes[i].Data.URL]; !dup {
			index[nodes[i].Data.URL] = i
		}
	}

	b := edgeBuilder{
		nodes:  nodes,
		edges:  []crawler.GraphEdge{},
		parent: make([]int, len(nodes)),
		seen:   make(map[[2]int]struct{}),
	}
	for i := range b.parent {
		b.parent[i] = -1
	}
	offset := len(synthesized)
	for i, rec := range records {
		if rec.ParentURL == "" {
			continue
		}
		if src, ok := index[rec.ParentURL]; ok {
			b.link(src, offset+i)
		}
	}
	for i := range synthesized {
		_, grandparent, err := crawler.DepthAndParent(synthesized[i].Data.URL)
		if err != nil || grandparent == "" {
			continue
		}
		if src, ok := index[grandparent]; ok {
			b.link(src, i)
		}
	}

	maxDepth := 0
	for i := range nodes {
		d := chainDepth(i, b.parent)
		nodes[i].Data.Depth = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	return crawler.Graph{
		Nodes: nodes,
		Edges: b.edges,
		Metadata: crawler.GraphMetadata{
			TotalNodes: len(nodes),
			TotalEdges: len(b.edges),
			MaxDepth:   maxDepth,
		},
	}
}

type edgeBuilder struct {
	nodes  []crawler.GraphNode
	edges  []crawler.GraphEdge
	parent []int
	seen   map[[2]int]struct{}
}

// link adds src->dst once. The first edge into a node decides its parent.
func (b *edgeBuilder) link(src, dst int) {
	if src == dst {
		return
	}
	key := [2]int{src, dst}
	if _, dup := b.seen[key]; dup {
		return
	}
	b.seen[key] = struct{}{}
	b.edges = append(b.edges, crawler.GraphEdge{
		ID:     fmt.Sprintf("edge-%s-%s", b.nodes[src].ID, b.nodes[dst].ID),
		Source: b.nodes[src].ID,
		Target: b.nodes[dst].ID,
		Type:   crawler.NodeType,
	})
	if b.parent[dst] < 0 {
		b.parent[dst] = src
	}
}

// chainDepth counts hops from i to its root. A cycle yields 0, which
// under-counts genuinely cyclic structures.
func chainDepth(i int, parent []int) int {
	visited := map[int]struct{}{i: {}}
	hops := 0
	for cur := parent[i]; cur >= 0; cur = parent[cur] {
		if _, loop := visited[cur]; loop {
			return 0
		}
		visited[cur] = struct{}{}
		hops++
	}
	return hops
}

// intermediateNode builds a placeholder for parentURL when childURL lies
// strictly below it in the same origin.
func intermediateNode(parentURL, childURL string) (crawler.GraphNode, bool) {
	parent, err := url.Parse(parentURL)
	if err != nil {
		return crawler.GraphNode{}, false
	}
	child, err := url.Parse(childURL)
	if err != nil {
		return crawler.GraphNode{}, false
	}
	if !isDescendant(parent, child) {
		return crawler.GraphNode{}, false
	}
	segments := crawler.PathSegments(parent)
	title := parent.Host
	if n := len(segments); n > 0 {
		title = segments[n-1]
		if decoded, err := url.PathUnescape(title); err == nil {
			title = decoded
		}
	}
	return crawler.GraphNode{
		Type: crawler.NodeType,
		Data: crawler.NodeData{
			Label:          title,
			URL:            parentURL,
			Title:          title,
			Depth:          len(segments),
			IsIntermediate: true,
		},
	}, true
}

func isDescendant(parent, child *url.URL) bool {
	if crawler.Origin(parent) != crawler.Origin(child) {
		return false
	}
	ps := crawler.PathSegments(parent)
	cs := crawler.PathSegments(child)
	if len(cs) <= len(ps) {
		return false
	}
	for i := range ps {
		if ps[i] != cs[i] {
			return false
		}
	}
	return true
}

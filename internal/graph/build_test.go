package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

func TestBuild_EmptyInput(t *testing.T) {
	t.Parallel()

	g := Build(nil)

	require.NotNil(t, g.Nodes)
	require.NotNil(t, g.Edges)
	require.Empty(t, g.Nodes)
	require.Empty(t, g.Edges)
	require.Equal(t, crawler.GraphMetadata{}, g.Metadata)
}

func TestBuild_SynthesizesMissingParent(t *testing.T) {
	t.Parallel()

	g := Build([]crawler.PageRecord{
		{URL: "https://x/a/b", ParentURL: "https://x/a", Title: "B", Depth: 2},
	})

	require.Len(t, g.Nodes, 2)
	synth := g.Nodes[0]
	require.True(t, synth.Data.IsIntermediate)
	require.Equal(t, "https://x/a", synth.Data.URL)
	require.Equal(t, "a", synth.Data.Title)
	require.Equal(t, "node-0", synth.ID)

	page := g.Nodes[1]
	require.False(t, page.Data.IsIntermediate)
	require.Equal(t, "node-1", page.ID)

	require.Len(t, g.Edges, 1)
	require.Equal(t, crawler.GraphEdge{
		ID:     "edge-node-0-node-1",
		Source: "node-0",
		Target: "node-1",
		Type:   crawler.NodeType,
	}, g.Edges[0])

	require.Equal(t, 0, synth.Data.Depth)
	require.Equal(t, 1, page.Data.Depth)
	require.Equal(t, crawler.GraphMetadata{TotalNodes: 2, TotalEdges: 1, MaxDepth: 1}, g.Metadata)
}

func TestBuild_SynthesizedNodeLinksToKnownGrandparent(t *testing.T) {
	t.Parallel()

	g := Build([]crawler.PageRecord{
		{URL: "https://x", Title: "Home", Depth: 0},
		{URL: "https://x/docs/intro", ParentURL: "https://x/docs", Title: "Intro", Depth: 2},
		{URL: "https://x/docs/setup", ParentURL: "https://x/docs", Title: "Setup", Depth: 2},
	})

	require.Len(t, g.Nodes, 4, "one synthesized node shared by both children")
	require.Equal(t, "https://x/docs", g.Nodes[0].Data.URL)
	require.True(t, g.Nodes[0].Data.IsIntermediate)

	edges := edgePairs(g)
	require.ElementsMatch(t, [][2]string{
		{"https://x/docs", "https://x/docs/intro"},
		{"https://x/docs", "https://x/docs/setup"},
		{"https://x", "https://x/docs"},
	}, edges)

	depths := depthByURL(g)
	require.Equal(t, 0, depths["https://x"])
	require.Equal(t, 1, depths["https://x/docs"])
	require.Equal(t, 2, depths["https://x/docs/intro"])
	require.Equal(t, 2, g.Metadata.MaxDepth)
}

func TestBuild_NoSynthesisWhenNotDescendant(t *testing.T) {
	t.Parallel()

	g := Build([]crawler.PageRecord{
		{URL: "https://x/a", ParentURL: "https://other/z"},
		{URL: "https://x/b", ParentURL: "https://x/b/c"},
	})

	require.Len(t, g.Nodes, 2)
	for _, n := range g.Nodes {
		require.False(t, n.Data.IsIntermediate)
	}
	require.Empty(t, g.Edges)
}

func TestBuild_EscapedPathsLinkToCrawledParent(t *testing.T) {
	t.Parallel()

	urls := []string{
		"https://x.example",
		"https://x.example/%E3%81%82",
		"https://x.example/%E3%81%82/c",
	}
	records := make([]crawler.PageRecord, 0, len(urls))
	for _, u := range urls {
		depth, parent, err := crawler.DepthAndParent(u)
		require.NoError(t, err)
		records = append(records, crawler.PageRecord{URL: u, ParentURL: parent, Depth: depth, StatusCode: 200})
	}

	g := Build(records)

	require.Len(t, g.Nodes, 3)
	for _, n := range g.Nodes {
		require.False(t, n.Data.IsIntermediate, n.Data.URL)
	}
	pairs := make([][2]string, 0, len(g.Edges))
	for _, e := range g.Edges {
		pairs = append(pairs, [2]string{e.Source, e.Target})
	}
	require.ElementsMatch(t, [][2]string{{"node-0", "node-1"}, {"node-1", "node-2"}}, pairs)
	require.Equal(t, 2, g.Metadata.MaxDepth)
}

func TestBuild_EscapedIntermediateKeepsEscapedURL(t *testing.T) {
	t.Parallel()

	g := Build([]crawler.PageRecord{
		{URL: "https://x.example/%E3%81%82/c", ParentURL: "https://x.example/%E3%81%82", Depth: 2},
	})

	require.Len(t, g.Nodes, 2)
	synth := g.Nodes[0]
	require.True(t, synth.Data.IsIntermediate)
	require.Equal(t, "https://x.example/%E3%81%82", synth.Data.URL)
	require.Equal(t, "あ", synth.Data.Title)
	require.Len(t, g.Edges, 1)
}

func TestBuild_AuthoritativeDepthOverridesReported(t *testing.T) {
	t.Parallel()

	g := Build([]crawler.PageRecord{
		{URL: "https://x/a", Depth: 5},
		{URL: "https://x/a/b", ParentURL: "https://x/a", Depth: 9},
	})

	depths := depthByURL(g)
	require.Equal(t, 0, depths["https://x/a"])
	require.Equal(t, 1, depths["https://x/a/b"])
}

func TestBuild_DefaultLabel(t *testing.T) {
	t.Parallel()

	g := Build([]crawler.PageRecord{{URL: "https://x"}})
	require.Equal(t, "No Title", g.Nodes[0].Data.Label)
	require.Equal(t, crawler.NodeType, g.Nodes[0].Type)
}

func TestChainDepth_CycleReturnsZero(t *testing.T) {
	t.Parallel()

	// 0 -> 1 -> 2 -> 0
	parent := []int{2, 0, 1, 1}
	require.Equal(t, 0, chainDepth(0, parent))
	require.Equal(t, 0, chainDepth(3, parent))

	require.Equal(t, 2, chainDepth(2, []int{-1, 0, 1}))
}

func edgePairs(g crawler.Graph) [][2]string {
	urls := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		urls[n.ID] = n.Data.URL
	}
	out := make([][2]string, 0, len(g.Edges))
	for _, e := range g.Edges {
		out = append(out, [2]string{urls[e.Source], urls[e.Target]})
	}
	return out
}

func depthByURL(g crawler.Graph) map[string]int {
	out := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		out[n.Data.URL] = n.Data.Depth
	}
	return out
}

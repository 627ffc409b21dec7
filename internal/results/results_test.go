package results

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/storage/memory"
)

func TestMultiStopsAtFirstError(t *testing.T) {
	t.Parallel()

	first := &recordingSink{}
	failing := &recordingSink{err: errors.New("down")}
	last := &recordingSink{}

	err := Multi{first, nil, failing, last}.Persist(context.Background(), "r1", crawler.Graph{}, crawler.ResultCounts{})
	require.ErrorContains(t, err, "down")
	require.Equal(t, 1, first.calls)
	require.Equal(t, 1, failing.calls)
	require.Equal(t, 0, last.calls)
}

func TestBlobSinkWritesGraphJSON(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	sink := NewBlobSink(blobs, "/exports/")
	graph := crawler.Graph{
		Nodes:    []crawler.GraphNode{{ID: "node-0", Type: crawler.NodeType, Data: crawler.NodeData{Label: "Home"}}},
		Edges:    []crawler.GraphEdge{},
		Metadata: crawler.GraphMetadata{TotalNodes: 1},
	}

	require.NoError(t, sink.Persist(context.Background(), "r1", graph, crawler.ResultCounts{TotalPages: 1, SuccessfulPages: 1}))

	data, contentType, ok := blobs.Object("exports/r1.json")
	require.True(t, ok)
	require.Equal(t, "application/json", contentType)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "r1", decoded["grouping_key"])
	require.Contains(t, decoded, "nodes")
	require.Contains(t, decoded, "edges")
	require.Contains(t, decoded, "metadata")
}

func TestBlobSinkDefaultPrefix(t *testing.T) {
	t.Parallel()

	require.Equal(t, "graphs/abc.json", NewBlobSink(memory.NewBlobStore(), "").Path("abc"))
	require.Error(t, NewBlobSink(nil, "").Persist(context.Background(), "r", crawler.Graph{}, crawler.ResultCounts{}))
}

type recordingSink struct {
	calls int
	err   error
}

func (r *recordingSink) Persist(context.Context, string, crawler.Graph, crawler.ResultCounts) error {
	r.calls++
	return r.err
}

package graphdb

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

func sampleGraph() crawler.Graph {
	return crawler.Graph{
		Nodes: []crawler.GraphNode{
			{ID: "node-0", Data: crawler.NodeData{URL: "https://x.io", Title: "Home"}},
			{ID: "node-1", Data: crawler.NodeData{URL: "https://x.io/a", Title: "A", Depth: 1}},
		},
		Edges: []crawler.GraphEdge{
			{ID: "edge-node-0-node-1", Source: "node-0", Target: "node-1"},
			{ID: "edge-node-0-node-9", Source: "node-0", Target: "node-9"},
		},
	}
}

func TestWriteGraphRunsPagesThenLinks(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{}
	require.NoError(t, writeGraph(context.Background(), tx, "r1", sampleGraph()))

	require.Len(t, tx.queries, 2)
	require.Equal(t, upsertPagesQuery, tx.queries[0])
	require.Equal(t, upsertLinksQuery, tx.queries[1])
	require.Equal(t, "r1", tx.params[0]["grouping_key"])

	nodes, ok := tx.params[0]["nodes"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, nodes, 2)
	require.Equal(t, int64(1), nodes[1]["depth"])

	edges, ok := tx.params[1]["edges"].([]map[string]any)
	require.True(t, ok)
	require.Equal(t, []map[string]any{{"source": "https://x.io", "target": "https://x.io/a"}}, edges,
		"edges to unknown nodes are dropped")
}

func TestWriteGraphSkipsEmptyGraph(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{}
	require.NoError(t, writeGraph(context.Background(), tx, "r1", crawler.Graph{}))
	require.Empty(t, tx.queries)
}

func TestWriteGraphPropagatesErrors(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{err: errors.New("constraint")}
	err := writeGraph(context.Background(), tx, "r1", sampleGraph())
	require.ErrorContains(t, err, "merge pages: constraint")
}

func TestPersistUsesWriteSession(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	driver := &fakeDriver{session: session}
	writer := NewGraphWriter(driver, "graphs", nil)

	require.NoError(t, writer.Persist(context.Background(), "r1", sampleGraph(), crawler.ResultCounts{}))
	require.Equal(t, neo4j.AccessModeWrite, driver.config.AccessMode)
	require.Equal(t, "graphs", driver.config.DatabaseName)
	require.True(t, session.executed)
	require.True(t, session.closed)

	session.err = errors.New("unavailable")
	err := writer.Persist(context.Background(), "r1", sampleGraph(), crawler.ResultCounts{})
	require.ErrorContains(t, err, "neo4j write graph: unavailable")
}

type fakeTx struct {
	queries []string
	params  []map[string]any
	err     error
}

func (f *fakeTx) Run(_ context.Context, query string, params map[string]any) (neo4j.ResultWithContext, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.queries = append(f.queries, query)
	f.params = append(f.params, params)
	return nil, nil
}

type fakeSession struct {
	executed bool
	closed   bool
	err      error
}

func (s *fakeSession) ExecuteWrite(
	_ context.Context,
	_ neo4j.ManagedTransactionWork,
	_ ...func(*neo4j.TransactionConfig),
) (any, error) {
	s.executed = true
	return nil, s.err
}

func (s *fakeSession) Close(context.Context) error {
	s.closed = true
	return nil
}

type fakeDriver struct {
	session *fakeSession
	config  neo4j.SessionConfig
}

func (d *fakeDriver) NewSession(_ context.Context, config neo4j.SessionConfig) SessionRunner {
	d.config = config
	return d.session
}

func (d *fakeDriver) Close(context.Context) error { return nil }

// Package graphdb mirrors finished site graphs into a Neo4j database.
package graphdb

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

// SessionRunner abstracts neo4j.SessionWithContext.
type SessionRunner interface {
	ExecuteWrite(
		ctx context.Context,
		work neo4j.ManagedTransactionWork,
		configurers ...func(*neo4j.TransactionConfig),
	) (any, error)
	Close(ctx context.Context) error
}

// DriverSessioner abstracts neo4j.DriverWithContext.
type DriverSessioner interface {
	NewSession(ctx context.Context, config neo4j.SessionConfig) SessionRunner
	Close(ctx context.Context) error
}

type txRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (neo4j.ResultWithContext, error)
}

const upsertPagesQuery = "UNWIND $nodes AS n " +
	"MERGE (p:Page {url: n.url}) " +
	"SET p.title = n.title, p.depth = n.depth, p.intermediate = n.intermediate, p.grouping_key = $grouping_key"

const upsertLinksQuery = "UNWIND $edges AS e " +
	"MATCH (src:Page {url: e.source}) " +
	"MATCH (dst:Page {url: e.target}) " +
	"MERGE (src)-[r:LINKS_TO {grouping_key: $grouping_key}]->(dst)"

// Config holds connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// GraphWriter is a ResultSink that stores pages as :Page nodes joined by :LINKS_TO.
type GraphWriter struct {
	driver   DriverSessioner
	database string
	logger   *zap.Logger
}

type driverAdapter struct {
	driver neo4j.DriverWithContext
}

func (d *driverAdapter) NewSession(ctx context.Context, config neo4j.SessionConfig) SessionRunner {
	return d.driver.NewSession(ctx, config)
}

func (d *driverAdapter) Close(ctx context.Context) error {
	return d.driver.Close(ctx) //nolint:wrapcheck // thin adapter
}

// Dial opens a driver using basic auth.
func Dial(cfg Config, logger *zap.Logger) (*GraphWriter, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j.uri is required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	return NewGraphWriter(&driverAdapter{driver: driver}, cfg.Database, logger), nil
}

// NewGraphWriter wraps an existing driver.
func NewGraphWriter(driver DriverSessioner, database string, logger *zap.Logger) *GraphWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphWriter{driver: driver, database: database, logger: logger}
}

// Persist writes every node and edge of graph in a single write transaction.
func (w *GraphWriter) Persist(
	ctx context.Context,
	groupingKey string,
	graph crawler.Graph,
	_ crawler.ResultCounts,
) error {
	session := w.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: w.database,
	})
	defer func() {
		if err := session.Close(ctx); err != nil {
			w.logger.Warn("neo4j session close failed", zap.Error(err))
		}
	}()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, writeGraph(ctx, tx, groupingKey, graph)
	})
	if err != nil {
		return fmt.Errorf("neo4j write graph: %w", err)
	}
	return nil
}

// Close shuts down the driver.
func (w *GraphWriter) Close(ctx context.Context) error {
	if err := w.driver.Close(ctx); err != nil {
		return fmt.Errorf("close neo4j driver: %w", err)
	}
	return nil
}

func writeGraph(ctx context.Context, tx txRunner, groupingKey string, graph crawler.Graph) error {
	nodes, edges := graphParams(graph)
	if len(nodes) == 0 {
		return nil
	}
	if _, err := tx.Run(ctx, upsertPagesQuery, map[string]any{
		"nodes":        nodes,
		"grouping_key": groupingKey,
	}); err != nil {
		return fmt.Errorf("merge pages: %w", err)
	}
	if len(edges) == 0 {
		return nil
	}
	if _, err := tx.Run(ctx, upsertLinksQuery, map[string]any{
		"edges":        edges,
		"grouping_key": groupingKey,
	}); err != nil {
		return fmt.Errorf("merge links: %w", err)
	}
	return nil
}

// graphParams flattens the graph into driver-friendly maps keyed by URL.
func graphParams(graph crawler.Graph) ([]map[string]any, []map[string]any) {
	urls := make(map[string]string, len(graph.Nodes))
	nodes := make([]map[string]any, 0, len(graph.Nodes))
	for _, n := range graph.Nodes {
		urls[n.ID] = n.Data.URL
		nodes = append(nodes, map[string]any{
			"url":          n.Data.URL,
			"title":        n.Data.Title,
			"depth":        int64(n.Data.Depth),
			"intermediate": n.Data.IsIntermediate,
		})
	}
	edges := make([]map[string]any, 0, len(graph.Edges))
	for _, e := range graph.Edges {
		src, okSrc := urls[e.Source]
		dst, okDst := urls[e.Target]
		if !okSrc || !okDst {
			continue
		}
		edges = append(edges, map[string]any{"source": src, "target": dst})
	}
	return nodes, edges
}

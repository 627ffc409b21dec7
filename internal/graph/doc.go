// Package graph turns crawled pages into a laid-out site map: Merge removes
// duplicate pages, Build derives nodes and edges from the URL hierarchy, and
// Layout assigns deterministic coordinates.
package graph

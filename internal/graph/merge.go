package graph

import (
	"sort"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

// Merge keeps the first record seen for each URL, preserving discovery order.
// With sortByDepth the survivors are stably ordered by ascending depth.
func Merge(records []crawler.PageRecord, sortByDepth bool) []crawler.PageRecord {
	out := make([]crawler.PageRecord, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.URL]; dup {
			continue
		}
		seen[rec.URL] = struct{}{}
		out = append(out, rec)
	}
	if sortByDepth {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Depth < out[j].Depth
		})
	}
	return out
}

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/graph"
)

func newGraphCmd() *cobra.Command {
	var (
		in          string
		sortByDepth bool
	)
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Build and lay out a graph from a JSON array of page records",
		Long: `Reads crawled page records (as produced by the crawler) and prints the
merged, built and laid out graph as JSON. Use --in - to read stdin.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			pages, err := readPages(cmd.InOrStdin(), in)
			if err != nil {
				return err
			}
			opts := graph.LayoutOptions{
				NodeWidth:      rt.cfg.Layout.NodeWidth,
				SiblingSpacing: rt.cfg.Layout.SiblingSpacing,
				LevelSpacing:   rt.cfg.Layout.LevelSpacing,
				Margin:         rt.cfg.Layout.Margin,
			}
			g := graph.Build(graph.Merge(pages, sortByDepth))
			graph.Layout(&g, opts)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(g); err != nil {
				return fmt.Errorf("write graph: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "page records file, or - for stdin")
	cmd.Flags().BoolVar(&sortByDepth, "sort-by-depth", false, "order pages by depth before building")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func readPages(stdin io.Reader, path string) ([]crawler.PageRecord, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open pages: %w", err)
		}
		defer f.Close()
		r = f
	}
	var pages []crawler.PageRecord
	if err := json.NewDecoder(r).Decode(&pages); err != nil {
		return nil, fmt.Errorf("decode pages: %w", err)
	}
	return pages, nil
}

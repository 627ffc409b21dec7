package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/sitegraph/internal/clock/system"
	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/dispatcher"
	"github.com/JakeFAU/sitegraph/internal/id/uuid"
	"github.com/JakeFAU/sitegraph/internal/server"
)

// batchFile is the --file format.
//
//	jobs:
//	  - owner_id: u1
//	    grouping_key: r1
//	    site_url: https://example.com
//	    max_pages: 10
type batchFile struct {
	Jobs []batchJob `yaml:"jobs"`
}

type batchJob struct {
	OwnerID     string `yaml:"owner_id"`
	GroupingKey string `yaml:"grouping_key"`
	SiteURL     string `yaml:"site_url"`
	MaxPages    int    `yaml:"max_pages"`
}

func (j batchJob) request() crawler.JobRequest {
	return crawler.JobRequest{
		OwnerID:     j.OwnerID,
		GroupingKey: j.GroupingKey,
		SiteURL:     j.SiteURL,
		MaxPages:    j.MaxPages,
	}
}

func newEnqueueCmd() *cobra.Command {
	var (
		job  batchJob
		file string
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Submit crawl jobs to the configured job store",
		Long: `Inserts pending jobs without running them; a running "serve" picks
them up on its next poll. Jobs come from flags or from a YAML batch file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			reqs := []crawler.JobRequest{job.request()}
			if file != "" {
				if reqs, err = loadBatch(file); err != nil {
					return err
				}
			}

			app, err := server.OpenStore(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}
			defer func() { _ = app.Close(cmd.Context()) }()

			d := dispatcher.New(app.JobStore(), nil, uuid.NewUUIDGenerator(), system.New(), dispatcher.Config{
				DefaultMaxPages: rt.cfg.Crawler.MaxPagesDefault,
				SubmitOnly:      true,
			}, rt.logger.Named("enqueue"))

			out := cmd.OutOrStdout()
			for i, req := range reqs {
				id, created, err := d.Enqueue(cmd.Context(), req)
				if err != nil {
					return fmt.Errorf("job %d (%s): %w", i, req.GroupingKey, err)
				}
				state := "created"
				if !created {
					state = "exists"
				}
				fmt.Fprintf(out, "%s\t%s\t%s\n", id, state, req.GroupingKey)
				rt.logger.Debug("job submitted", zap.String("job_id", id), zap.Bool("created", created))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&job.OwnerID, "owner", "", "owner id")
	cmd.Flags().StringVar(&job.GroupingKey, "key", "", "grouping key (one active job per key)")
	cmd.Flags().StringVar(&job.SiteURL, "site", "", "site URL to crawl")
	cmd.Flags().IntVar(&job.MaxPages, "max-pages", 0, "page budget (0 uses crawler.max_pages_default)")
	cmd.Flags().StringVar(&file, "file", "", "YAML batch file; overrides the single-job flags")
	return cmd
}

func loadBatch(path string) ([]crawler.JobRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	var batch batchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("parse batch file: %w", err)
	}
	if len(batch.Jobs) == 0 {
		return nil, fmt.Errorf("batch file %s has no jobs", path)
	}
	reqs := make([]crawler.JobRequest, 0, len(batch.Jobs))
	for _, j := range batch.Jobs {
		reqs = append(reqs, j.request())
	}
	return reqs, nil
}

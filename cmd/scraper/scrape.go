package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/maltedev/trendyol-metrics-scraper/internal/metrics"
	"github.com/maltedev/trendyol-metrics-scraper/internal/report"
	"github.com/maltedev/trendyol-metrics-scraper/internal/runner"
	"github.com/maltedev/trendyol-metrics-scraper/internal/scraper"
)

var (
	scrapeURLs  []string
	scrapeFile  string
	scrapeStale bool
	scrapeLimit int
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape product pages once and print a summary.",
	Example: `  scraper scrape --url https://www.trendyol.com/mavi/jean-p-123
  scraper scrape --file targets.yaml
  scraper scrape --stale --limit 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		be, err := openBackend(ctx, cfg)
		if err != nil {
			return err
		}
		defer be.close()

		targets, err := collectTargets(cmd, be.reader)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			log.Info("nothing to scrape")
			return nil
		}

		m := metrics.New(nil)
		p, err := newPipeline(cfg, be.gateway, m)
		if err != nil {
			return err
		}
		defer p.Close()

		summary, runErr := p.runner.Run(ctx, targets)
		m.ObserveRun(summary)
		report.Summary(os.Stdout, summary)
		return runErr
	},
}

func collectTargets(cmd *cobra.Command, stale runner.StaleSource) ([]scraper.Target, error) {
	var targets []scraper.Target

	if len(scrapeURLs) > 0 {
		t, err := runner.FromURLs(scrapeURLs)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t...)
	}

	if scrapeFile != "" {
		t, err := runner.LoadTargets(scrapeFile)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t...)
	}

	if scrapeStale {
		limit := cfg.Scraper.StaleBatchSize
		if cmd.Flags().Changed("limit") {
			limit = scrapeLimit
		}
		t, err := runner.StaleTargets(cmd.Context(), stale, limit)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t...)
	}

	if len(scrapeURLs) == 0 && scrapeFile == "" && !scrapeStale {
		return nil, errors.New("one of --url, --file or --stale is required")
	}

	return runner.Clean(targets)
}

func init() {
	scrapeCmd.Flags().StringSliceVar(&scrapeURLs, "url", nil, "product URL to scrape (repeatable)")
	scrapeCmd.Flags().StringVar(&scrapeFile, "file", "", "target list, one URL per line or YAML")
	scrapeCmd.Flags().BoolVar(&scrapeStale, "stale", false, "scrape the products that were refreshed least recently")
	scrapeCmd.Flags().IntVar(&scrapeLimit, "limit", 0, "number of stale products (default SCRAPER_STALE_BATCH_SIZE)")
	rootCmd.AddCommand(scrapeCmd)
}

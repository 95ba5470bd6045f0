package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/furnishly/catalog-cli/internal/pipeline"
)

const summaryRound = 100 * time.Millisecond

var (
	scrapePages       int
	scrapeMaxProducts int
	scrapeConcurrency int
	scrapeNoSync      bool
	scrapeDataDir     string
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape [vendor...]",
	Short: "Scrape vendor sites and reconcile the catalog",
	Long:  "Discovers product pages for the named vendors (all registered vendors when none are given), extracts and categorizes product records, writes per-vendor interchange files, and reconciles the results into the store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts := pipeline.Options{
			MaxPages:    scrapePages,
			MaxProducts: scrapeMaxProducts,
			Concurrency: scrapeConcurrency,
			BatchSize:   cfg.Scrape.BatchSize,
			DataDir:     scrapeDataDir,
			SkipSync:    scrapeNoSync,
		}
		if opts.MaxPages == 0 {
			opts.MaxPages = cfg.Scrape.MaxPages
		}
		if opts.MaxProducts == 0 {
			opts.MaxProducts = cfg.Scrape.MaxProducts
		}
		if opts.Concurrency == 0 {
			opts.Concurrency = cfg.Scrape.Concurrency
		}
		if opts.DataDir == "" {
			opts.DataDir = cfg.Scrape.DataDir
		}

		env, err := initPipeline(ctx, opts)
		if err != nil {
			return err
		}
		defer env.Close()

		profiles, err := env.Registry.Select(args)
		if err != nil {
			return err
		}

		summary := env.Pipeline.Run(ctx, profiles)
		printSummary(summary)

		if summary.Failed() {
			return fmt.Errorf("scrape: all %d vendors failed", len(summary.Vendors))
		}
		return nil
	},
}

func printSummary(summary pipeline.RunSummary) {
	for _, vs := range summary.Vendors {
		if vs.Err != nil {
			fmt.Printf("%-22s FAILED: %v\n", vs.Vendor, vs.Err)
			continue
		}
		fmt.Printf("%-22s discovered=%d extracted=%d discarded=%d inserted=%d updated=%d skipped=%d deleted=%d errors=%d\n",
			vs.Vendor, vs.Discovered, vs.Extracted, vs.Discarded,
			vs.Outcome.Inserted, vs.Outcome.Updated, vs.Outcome.Skipped,
			vs.Outcome.Deleted, len(vs.Outcome.Errors))
	}
	fmt.Printf("done in %s\n", summary.Duration.Round(summaryRound))
}

func init() {
	scrapeCmd.Flags().IntVar(&scrapePages, "pages", 0, "max listing pages per seed (default from config)")
	scrapeCmd.Flags().IntVar(&scrapeMaxProducts, "max-products", 0, "cap on product pages fetched per vendor (0 = no cap)")
	scrapeCmd.Flags().IntVar(&scrapeConcurrency, "concurrency", 0, "concurrent product fetches (default from config)")
	scrapeCmd.Flags().BoolVar(&scrapeNoSync, "no-sync", false, "dump interchange files without touching the store")
	scrapeCmd.Flags().StringVar(&scrapeDataDir, "data-dir", "", "interchange file directory (default from config)")
	rootCmd.AddCommand(scrapeCmd)
}

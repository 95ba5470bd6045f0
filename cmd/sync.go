package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/furnishly/catalog-cli/internal/export"
	"github.com/furnishly/catalog-cli/internal/pipeline"
)

var syncDataDir string

var syncCmd = &cobra.Command{
	Use:   "sync [vendor...]",
	Short: "Replay interchange files into the catalog store",
	Long:  "Reads the per-vendor JSON dumps written by scrape (all dumps in the data directory when no vendors are given) and reconciles them into the store without scraping.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dataDir := syncDataDir
		if dataDir == "" {
			dataDir = cfg.Scrape.DataDir
		}

		env, err := initPipeline(ctx, pipeline.Options{
			BatchSize: cfg.Scrape.BatchSize,
			DataDir:   dataDir,
		})
		if err != nil {
			return err
		}
		defer env.Close()

		vendors := args
		if len(vendors) == 0 {
			vendors, err = export.Vendors(dataDir)
			if err != nil {
				return err
			}
			if len(vendors) == 0 {
				return fmt.Errorf("sync: no interchange files in %s", dataDir)
			}
		}

		failed := 0
		for _, v := range vendors {
			products, err := export.Read(dataDir, v)
			if err != nil {
				zap.L().Error("sync: read dump failed", zap.String("vendor", v), zap.Error(err))
				fmt.Printf("%-22s FAILED: %v\n", v, err)
				failed++
				continue
			}

			outcome, err := env.Pipeline.Sync(ctx, v, products)
			if err != nil {
				zap.L().Error("sync: reconcile failed", zap.String("vendor", v), zap.Error(err))
				fmt.Printf("%-22s FAILED: %v\n", v, err)
				failed++
				continue
			}

			fmt.Printf("%-22s inserted=%d updated=%d skipped=%d deleted=%d errors=%d\n",
				v, outcome.Inserted, outcome.Updated, outcome.Skipped,
				outcome.Deleted, len(outcome.Errors))
		}

		if failed == len(vendors) {
			return fmt.Errorf("sync: all %d vendors failed", failed)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncDataDir, "data-dir", "", "interchange file directory (default from config)")
	rootCmd.AddCommand(syncCmd)
}

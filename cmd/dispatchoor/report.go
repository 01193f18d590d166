package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kernelpipe/dispatchoor/pkg/config"
	"github.com/kernelpipe/dispatchoor/pkg/report"
	"github.com/kernelpipe/dispatchoor/pkg/store"
	"github.com/kernelpipe/dispatchoor/pkg/upload"
	"github.com/spf13/cobra"
)

var (
	reportPreset   string
	reportDate     string
	reportFollow   bool
	reportInterval time.Duration
	reportFiles    bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate reports for completed records",
	Long: `Compile the selected settings preset into record store queries and
render a text report for every matching test, build and regression record.`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringVar(&reportPreset, "preset", "default",
		"settings preset to use")
	reportCmd.Flags().StringVar(&reportDate, "date", "",
		"collect results created after this date (YYYY-MM-DD, default: one day before)")
	reportCmd.Flags().BoolVar(&reportFollow, "follow", false,
		"keep re-running the queries on an interval")
	reportCmd.Flags().DurationVar(&reportInterval, "interval", 10*time.Minute,
		"polling interval in follow mode")
	reportCmd.Flags().BoolVar(&reportFiles, "write-files", false,
		"also write each report into the output directory")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	preset, ok := cfg.Reports.Presets[reportPreset]
	if !ok {
		return fmt.Errorf("no %q preset in %s", reportPreset, cfgFile)
	}

	since, err := resolveSince(reportDate)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	db := store.NewStore(log, &cfg.Store)
	if err := db.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := db.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop store")
		}
	}()

	sinks := []report.Sink{&report.WriterSink{Out: os.Stdout}}

	if reportFiles {
		sinks = append(sinks, &report.FileSink{
			Dir: filepath.Join(cfg.Dispatch.OutputDir, "reports"),
		})
	}

	if cfg.Reports.Upload != nil && cfg.Reports.Upload.S3 != nil &&
		cfg.Reports.Upload.S3.Enabled {
		uploader, err := upload.NewS3Uploader(log, cfg.Reports.Upload.S3)
		if err != nil {
			return fmt.Errorf("creating S3 uploader: %w", err)
		}

		// Fail fast: verify S3 is reachable before querying anything.
		if err := uploader.Preflight(ctx); err != nil {
			return fmt.Errorf("S3 upload preflight check failed: %w", err)
		}

		sinks = append(sinks, &report.UploadSink{Uploader: uploader})
	}

	checkerCfg := &report.CheckerConfig{
		Preset: preset,
		Since:  since,
	}
	if reportFollow {
		checkerCfg.Interval = reportInterval
	}

	return report.NewChecker(log, checkerCfg, db, sinks...).Run(ctx)
}

// resolveSince parses the --date flag, defaulting to one day before now.
func resolveSince(date string) (time.Time, error) {
	if date == "" {
		return time.Now().UTC().AddDate(0, 0, -1), nil
	}

	since, err := time.Parse(store.DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", date, err)
	}

	return since, nil
}

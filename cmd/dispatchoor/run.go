package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kernelpipe/dispatchoor/pkg/api"
	"github.com/kernelpipe/dispatchoor/pkg/backend"
	"github.com/kernelpipe/dispatchoor/pkg/config"
	"github.com/kernelpipe/dispatchoor/pkg/dispatch"
	"github.com/kernelpipe/dispatchoor/pkg/store"
	"github.com/spf13/cobra"
)

var nodeID string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Listen for checkouts and dispatch test jobs",
	Long: `Subscribe to the node channel and schedule a test job for every
checkout record that becomes available. With --node-id, process that single
checkout and exit.`,
	RunE: runDispatch,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&nodeID, "node-id", "",
		"id of the checkout record to process instead of subscribing")
}

func runDispatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if nodeID != "" {
		cfg.Dispatch.NodeID = nodeID
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

	if cfg.API.Enabled {
		apiServer := api.NewServer(log, &cfg.API, db)
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}

		defer func() {
			if err := apiServer.Stop(); err != nil {
				log.WithError(err).Warn("Failed to stop API server")
			}
		}()
	}

	coordinator, err := dispatch.NewCoordinator(log, cfg, db, backend.NewShell(log))
	if err != nil {
		return fmt.Errorf("creating coordinator: %w", err)
	}

	return coordinator.Run(ctx)
}

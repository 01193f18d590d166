// Package api exposes a read-only HTTP status surface over the record store:
// record lookup, record queries and rendered reports.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kernelpipe/dispatchoor/pkg/config"
	"github.com/kernelpipe/dispatchoor/pkg/report"
	"github.com/kernelpipe/dispatchoor/pkg/store"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	db         store.Store
	builder    report.Builder
	httpServer *http.Server
}

// NewServer creates a new API server reading from the given store.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
	db store.Store,
) Server {
	return &server{
		log:     log.WithField("component", "api"),
		cfg:     cfg,
		db:      db,
		builder: report.NewBuilder(log, db),
	}
}

// Start begins serving HTTP requests.
func (s *server) Start(_ context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithField("address", s.cfg.Address).Info("API server listening")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("API server failed")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}

	return nil
}

package report

import (
	"context"
	"fmt"
	"time"

	"github.com/kernelpipe/dispatchoor/pkg/config"
	"github.com/kernelpipe/dispatchoor/pkg/query"
	"github.com/kernelpipe/dispatchoor/pkg/store"
	"github.com/sirupsen/logrus"
)

// CheckerConfig configures one report pipeline run.
type CheckerConfig struct {
	Preset config.Preset
	Since  time.Time

	// Interval enables continuous mode: the compiled queries are re-run on
	// this period until cancelled. Zero means one-shot.
	Interval time.Duration
}

// Checker compiles the settings preset into store queries and renders a
// report for every matching record.
type Checker interface {
	Run(ctx context.Context) error
}

// Compile-time interface check.
var _ Checker = (*checker)(nil)

type checker struct {
	log     logrus.FieldLogger
	cfg     *CheckerConfig
	db      store.Store
	builder Builder
	sinks   []Sink
}

// NewChecker creates a report pipeline runner writing to the given sinks.
func NewChecker(
	log logrus.FieldLogger,
	cfg *CheckerConfig,
	db store.Store,
	sinks ...Sink,
) Checker {
	return &checker{
		log:     log.WithField("component", "checker"),
		cfg:     cfg,
		db:      db,
		builder: NewBuilder(log, db),
		sinks:   sinks,
	}
}

func (c *checker) Run(ctx context.Context) error {
	if err := c.runOnce(ctx); err != nil {
		return err
	}

	if c.cfg.Interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("Stopping")

			return nil
		case <-ticker.C:
			if err := c.runOnce(ctx); err != nil {
				return err
			}
		}
	}
}

// runOnce iterates the compiled filter sets sequentially and renders every
// match. Compilation and rendering errors are configuration errors and abort
// the run.
func (c *checker) runOnce(ctx context.Context) error {
	filters, err := query.Compile(c.cfg.Preset, c.cfg.Since)
	if err != nil {
		return fmt.Errorf("compiling settings: %w", err)
	}

	for _, filter := range filters {
		c.log.WithField("query", filter).Info("Running query")

		records, err := c.db.Find(ctx, filter)
		if err != nil {
			return fmt.Errorf("querying records: %w", err)
		}

		c.log.WithField("matches", len(records)).Info("Query done")

		for _, rec := range records {
			text, err := c.builder.Render(ctx, rec)
			if err != nil {
				return fmt.Errorf("rendering record %s: %w", rec.ID, err)
			}

			for _, sink := range c.sinks {
				if err := sink.Write(ctx, rec.ID, text); err != nil {
					return fmt.Errorf("writing report for %s: %w", rec.ID, err)
				}
			}
		}
	}

	return nil
}

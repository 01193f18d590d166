// Package dispatch coordinates test job scheduling. The coordinator listens
// for checkout records becoming available, anchors a child test record for
// each one, builds the merged job descriptor and drives the execution backend
// to completion.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kernelpipe/dispatchoor/pkg/backend"
	"github.com/kernelpipe/dispatchoor/pkg/config"
	"github.com/kernelpipe/dispatchoor/pkg/record"
	"github.com/kernelpipe/dispatchoor/pkg/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// scratchPrefix is the timestamp layout prefixing job scratch directories.
const scratchPrefix = "20060102_150405"

// Coordinator schedules one test job per received checkout record.
type Coordinator interface {
	// Run processes checkouts until the context is cancelled. With a fixed
	// node id configured it processes that single checkout and returns;
	// otherwise it subscribes to the node channel and loops.
	Run(ctx context.Context) error

	// Process handles a single checkout record end-to-end: child record
	// creation, descriptor build, submission and wait.
	Process(ctx context.Context, checkout *record.Record) error
}

// Compile-time interface check.
var _ Coordinator = (*coordinator)(nil)

type coordinator struct {
	log     logrus.FieldLogger
	cfg     *config.Config
	device  *config.DeviceConfig
	db      store.Store
	runtime backend.Backend

	// sem bounds the number of in-flight jobs. The default weight of one
	// preserves strict one-job-at-a-time admission control.
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewCoordinator creates a dispatch coordinator.
func NewCoordinator(
	log logrus.FieldLogger,
	cfg *config.Config,
	db store.Store,
	runtime backend.Backend,
) (Coordinator, error) {
	device, ok := cfg.Devices[cfg.Dispatch.DeviceType]
	if !ok {
		return nil, fmt.Errorf("unknown device type %q", cfg.Dispatch.DeviceType)
	}

	return &coordinator{
		log:     log.WithField("component", "dispatch"),
		cfg:     cfg,
		device:  &device,
		db:      db,
		runtime: runtime,
		sem:     semaphore.NewWeighted(int64(cfg.Dispatch.MaxInFlight)),
	}, nil
}

func (c *coordinator) Run(ctx context.Context) error {
	if err := os.MkdirAll(c.cfg.Dispatch.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	if c.cfg.Dispatch.NodeID != "" {
		return c.runDirect(ctx)
	}

	return c.runSubscription(ctx)
}

// runDirect fetches the configured checkout once and processes it
// synchronously.
func (c *coordinator) runDirect(ctx context.Context) error {
	checkout, err := c.db.Get(ctx, c.cfg.Dispatch.NodeID)
	if err != nil {
		return fmt.Errorf("fetching checkout: %w", err)
	}

	return c.Process(ctx, checkout)
}

// runSubscription receives available checkouts from the node channel until
// cancelled. Event failures are logged and the loop keeps listening; only
// cancellation stops it, after which the subscription is removed.
func (c *coordinator) runSubscription(ctx context.Context) error {
	subID := c.db.Subscribe(store.ChannelNode, store.Filter{
		store.FieldName:  "checkout",
		store.FieldState: record.StateAvailable,
	})

	defer func() {
		if err := c.db.Unsubscribe(subID); err != nil {
			c.log.WithError(err).Warn("Failed to unsubscribe")
		}

		c.wg.Wait()
	}()

	c.log.Info("Listening for checkouts")

	var failures atomic.Int64

	for {
		checkout, err := c.db.Receive(ctx, subID)
		if err != nil {
			if errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(err, store.ErrSubscriptionClosed) {
				c.log.WithField("failures", failures.Load()).Info("Stopping")

				return nil
			}

			return fmt.Errorf("receiving checkout: %w", err)
		}

		c.log.WithFields(logrus.Fields{
			"checkout": checkout.ID,
			"commit":   shortCommit(checkout.Data.KernelRevision.Commit),
		}).Info("Checkout received")

		// Acquire before spawning so admission control applies to record
		// creation as well as job execution.
		if err := c.sem.Acquire(ctx, 1); err != nil {
			c.log.WithField("failures", failures.Load()).Info("Stopping")

			return nil
		}

		c.wg.Add(1)

		go func(checkout *record.Record) {
			defer c.wg.Done()
			defer c.sem.Release(1)

			if err := c.process(ctx, checkout); err != nil {
				if errors.Is(err, context.Canceled) {
					c.log.WithField("checkout", checkout.ID).Info("Job aborted")

					return
				}

				failures.Add(1)

				c.log.WithError(err).
					WithField("checkout", checkout.ID).
					Error("Failed to process checkout")
			}
		}(checkout)
	}
}

func (c *coordinator) Process(ctx context.Context, checkout *record.Record) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	return c.process(ctx, checkout)
}

// process runs the dispatch sequence for one checkout. The child record must
// exist before anything is submitted: it is the durable anchor later result
// lookups depend on.
func (c *coordinator) process(ctx context.Context, checkout *record.Record) error {
	child, err := c.createChild(ctx, checkout)
	if err != nil {
		return fmt.Errorf("creating child record for checkout %s: %w", checkout.ID, err)
	}

	log := c.log.WithFields(logrus.Fields{
		"checkout": checkout.ID,
		"record":   child.ID,
	})

	params, err := c.buildParams(child)
	if err != nil {
		return fmt.Errorf("building descriptor for record %s: %w", child.ID, err)
	}

	job, err := c.runtime.Generate(params, c.device, &c.cfg.Plan)
	if err != nil {
		return fmt.Errorf("generating job for record %s: %w", child.ID, err)
	}

	scratch, err := os.MkdirTemp(c.cfg.Dispatch.OutputDir,
		time.Now().Format(scratchPrefix)+"-")
	if err != nil {
		return fmt.Errorf("creating scratch directory for record %s: %w", child.ID, err)
	}

	path, err := c.runtime.Save(job, scratch)
	if err != nil {
		return fmt.Errorf("saving job for record %s: %w", child.ID, err)
	}

	handle, err := c.runtime.Submit(path)
	if err != nil {
		return fmt.Errorf("submitting job for record %s: %w", child.ID, err)
	}

	log.Info("Waiting for job")

	if err := handle.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}

		return fmt.Errorf("job for record %s: %w", child.ID, err)
	}

	log.Info("Job finished")

	return nil
}

// createChild anchors the test run in the store: a test record under the
// checkout, inheriting its artifacts and revision.
func (c *coordinator) createChild(ctx context.Context, checkout *record.Record) (*record.Record, error) {
	return c.db.Create(ctx, &record.Record{
		Kind:      record.KindTest,
		Name:      c.cfg.Plan.Name,
		Parent:    checkout.ID,
		State:     record.StateRunning,
		Artifacts: checkout.Artifacts,
		Data: record.Data{
			KernelRevision: checkout.Data.KernelRevision,
			Runtime:        c.runtime.Name(),
		},
		Path: checkout.ChildPath(c.cfg.Plan.Name),
	})
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}

	return commit
}

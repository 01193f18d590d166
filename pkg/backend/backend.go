// Package backend turns a merged job descriptor into a runnable job and
// tracks it to completion. The shell runtime runs jobs as local processes;
// other runtimes can implement the same interface.
package backend

import (
	"context"

	"github.com/kernelpipe/dispatchoor/pkg/config"
)

// Params is the merged job descriptor consumed by a runtime.
type Params map[string]any

// Merge layers each overlay onto base in order; later layers win on key
// collisions. The inputs are not modified.
func Merge(base Params, overlays ...map[string]any) Params {
	merged := make(Params, len(base))
	for key, value := range base {
		merged[key] = value
	}

	for _, overlay := range overlays {
		for key, value := range overlay {
			merged[key] = value
		}
	}

	return merged
}

// Job is a materialized job artifact ready to be saved and submitted.
type Job struct {
	Name   string
	Script string
	Params Params
}

// Handle tracks a submitted job.
type Handle interface {
	// Wait blocks until the job finishes or the context is cancelled.
	Wait(ctx context.Context) error
}

// Backend materializes job descriptors into runnable jobs.
type Backend interface {
	// Name identifies the runtime (reported in record data).
	Name() string

	// Generate renders the job artifact from the merged descriptor and the
	// plan/device definitions it was built from.
	Generate(params Params, device *config.DeviceConfig, plan *config.PlanConfig) (*Job, error)

	// Save persists the job artifact into dir and returns the path of the
	// submittable file.
	Save(job *Job, dir string) (string, error)

	// Submit starts the job and returns a handle to wait on.
	Submit(path string) (Handle, error)
}

// Package upload pushes generated reports to remote storage.
package upload

import "context"

// Uploader stores generated report documents remotely.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// Put uploads one report document under the configured prefix.
	Put(ctx context.Context, name string, text string) error
}

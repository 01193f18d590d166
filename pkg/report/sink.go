package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kernelpipe/dispatchoor/pkg/upload"
)

// Sink receives rendered reports. The name is the id of the reported record.
type Sink interface {
	Write(ctx context.Context, name, text string) error
}

// WriterSink streams reports to an io.Writer, typically stdout.
type WriterSink struct {
	Out io.Writer
}

func (s *WriterSink) Write(_ context.Context, _, text string) error {
	if _, err := io.WriteString(s.Out, text); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	return nil
}

// FileSink writes each report as <dir>/<name>.txt.
type FileSink struct {
	Dir string
}

func (s *FileSink) Write(_ context.Context, name, text string) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	path := filepath.Join(s.Dir, name+".txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("writing report file: %w", err)
	}

	return nil
}

// UploadSink pushes reports to remote storage.
type UploadSink struct {
	Uploader upload.Uploader
}

func (s *UploadSink) Write(ctx context.Context, name, text string) error {
	return s.Uploader.Put(ctx, name, text)
}

package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kernelpipe/dispatchoor/pkg/config"
	"github.com/kernelpipe/dispatchoor/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckerRendersMatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	checkout := createCheckout(t, s)

	suite, err := s.Create(ctx, &record.Record{
		Kind:   record.KindTest,
		Name:   "fstests",
		Parent: checkout.ID,
		State:  record.StateDone,
		Result: record.ResultPass,
		Data:   record.Data{KernelRevision: testRevision},
	})
	require.NoError(t, err)

	// Still running: must not be reported.
	_, err = s.Create(ctx, &record.Record{
		Kind:   record.KindTest,
		Name:   "fstests",
		Parent: checkout.ID,
		State:  record.StateRunning,
		Data:   record.Data{KernelRevision: testRevision},
	})
	require.NoError(t, err)

	var out bytes.Buffer

	fileDir := t.TempDir()

	checker := NewChecker(testLogger(), &CheckerConfig{
		Preset: config.Preset{"tests": nil},
		Since:  time.Now().UTC().AddDate(0, 0, -1),
	}, s, &WriterSink{Out: &out}, &FileSink{Dir: fileDir})

	require.NoError(t, checker.Run(context.Background()))

	assert.Contains(t, out.String(), "Test id: "+suite.ID)
	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("Test id: ")))

	written, err := os.ReadFile(filepath.Join(fileDir, suite.ID+".txt"))
	require.NoError(t, err)
	assert.Contains(t, string(written), "Test id: "+suite.ID)
}

func TestCheckerUnknownBlockFails(t *testing.T) {
	s := newTestStore(t)

	checker := NewChecker(testLogger(), &CheckerConfig{
		Preset: config.Preset{"builds": nil},
		Since:  time.Now(),
	}, s, &WriterSink{Out: &bytes.Buffer{}})

	require.Error(t, checker.Run(context.Background()))
}

func TestCheckerFollowStopsOnCancel(t *testing.T) {
	s := newTestStore(t)

	checker := NewChecker(testLogger(), &CheckerConfig{
		Preset:   config.Preset{"tests": nil},
		Since:    time.Now().UTC().AddDate(0, 0, -1),
		Interval: 10 * time.Millisecond,
	}, s, &WriterSink{Out: &bytes.Buffer{}})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		done <- checker.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("checker did not stop")
	}
}

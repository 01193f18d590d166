package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kernelpipe/dispatchoor/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	return log
}

func TestMergePrecedence(t *testing.T) {
	base := Params{"a": 1, "b": 1, "c": 1}
	plan := map[string]any{"b": 2, "c": 2}
	device := map[string]any{"c": 3}

	merged := Merge(base, plan, device)

	assert.Equal(t, 1, merged["a"])
	assert.Equal(t, 2, merged["b"])
	assert.Equal(t, 3, merged["c"])

	// Inputs stay untouched.
	assert.Equal(t, 1, base["c"])
	assert.Equal(t, 2, plan["c"])
}

func TestShellGenerate(t *testing.T) {
	be := NewShell(testLogger())

	job, err := be.Generate(Params{
		"name":    "fstests",
		"command": "echo running",
	}, &config.DeviceConfig{}, &config.PlanConfig{Name: "fstests"})
	require.NoError(t, err)

	assert.Equal(t, "fstests", job.Name)
	assert.Contains(t, job.Script, "#!/bin/sh")
	assert.Contains(t, job.Script, "echo running")
}

func TestShellGenerateDefaultCommand(t *testing.T) {
	be := NewShell(testLogger())

	job, err := be.Generate(Params{"name": "fstests"},
		&config.DeviceConfig{}, &config.PlanConfig{Name: "fstests"})
	require.NoError(t, err)
	assert.Contains(t, job.Script, `fstests --params "$JOB_PARAMS"`)
}

func TestShellGenerateRequiresName(t *testing.T) {
	be := NewShell(testLogger())

	_, err := be.Generate(Params{}, &config.DeviceConfig{}, &config.PlanConfig{})
	require.Error(t, err)
}

func TestShellSaveWritesArtifacts(t *testing.T) {
	be := NewShell(testLogger())
	dir := t.TempDir()

	job, err := be.Generate(Params{
		"name":    "fstests",
		"command": "true",
		"jobs":    4,
	}, &config.DeviceConfig{}, &config.PlanConfig{Name: "fstests"})
	require.NoError(t, err)

	path, err := be.Save(job, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "fstests.sh"), path)

	script, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(script), "true")

	params, err := os.ReadFile(filepath.Join(dir, "params.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(params), "jobs: 4")
}

func TestShellSubmitAndWait(t *testing.T) {
	be := NewShell(testLogger())
	dir := t.TempDir()

	job, err := be.Generate(Params{
		"name":    "quick",
		"command": "true",
	}, &config.DeviceConfig{}, &config.PlanConfig{Name: "quick"})
	require.NoError(t, err)

	path, err := be.Save(job, dir)
	require.NoError(t, err)

	handle, err := be.Submit(path)
	require.NoError(t, err)
	require.NoError(t, handle.Wait(context.Background()))
}

func TestShellWaitFailure(t *testing.T) {
	be := NewShell(testLogger())
	dir := t.TempDir()

	job, err := be.Generate(Params{
		"name":    "broken",
		"command": "exit 3",
	}, &config.DeviceConfig{}, &config.PlanConfig{Name: "broken"})
	require.NoError(t, err)

	path, err := be.Save(job, dir)
	require.NoError(t, err)

	handle, err := be.Submit(path)
	require.NoError(t, err)
	require.Error(t, handle.Wait(context.Background()))
}

func TestShellWaitCancellation(t *testing.T) {
	be := NewShell(testLogger())
	dir := t.TempDir()

	job, err := be.Generate(Params{
		"name":    "slow",
		"command": "sleep 10",
	}, &config.DeviceConfig{}, &config.PlanConfig{Name: "slow"})
	require.NoError(t, err)

	path, err := be.Save(job, dir)
	require.NoError(t, err)

	handle, err := be.Submit(path)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = handle.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

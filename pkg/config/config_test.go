package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
global:
  log_level: info
store:
  driver: sqlite
  sqlite:
    path: /tmp/test.db
dispatch:
  output_dir: ./out
  jobs: 4
  device_type: shell
plan:
  name: fstests
  params:
    testgroup: auto
devices:
  shell:
    params:
      timeout: 90
reports:
  presets:
    default:
      tests:
        - repos:
            - tree: mainline
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Global.LogLevel)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/test.db", cfg.Store.SQLite.Path)
	assert.Equal(t, "./out", cfg.Dispatch.OutputDir)
	assert.Equal(t, 4, cfg.Dispatch.Jobs)
	assert.Equal(t, "fstests", cfg.Plan.Name)
	assert.Equal(t, "auto", cfg.Plan.Params["testgroup"])

	preset, ok := cfg.Reports.Presets["default"]
	require.True(t, ok)
	require.Len(t, preset["tests"], 1)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "store:\n  driver: sqlite\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultOutputDir, cfg.Dispatch.OutputDir)
	assert.Equal(t, DefaultPlanName, cfg.Plan.Name)
	assert.Equal(t, DefaultDeviceType, cfg.Dispatch.DeviceType)
	assert.Equal(t, DefaultMaxInFlight, cfg.Dispatch.MaxInFlight)
	assert.Equal(t, DefaultJobs, cfg.Dispatch.Jobs)
	assert.Equal(t, DefaultAPIAddress, cfg.API.Address)
	assert.Contains(t, cfg.Devices, DefaultDeviceType)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DISPATCHOOR_GLOBAL_LOG_LEVEL", "debug")
	t.Setenv("DISPATCHOOR_DISPATCH_OUTPUT_DIR", "/var/dispatch")

	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Global.LogLevel)
	assert.Equal(t, "/var/dispatch", cfg.Dispatch.OutputDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "unsupported driver",
			mutate:  func(cfg *Config) { cfg.Store.Driver = "mysql" },
			wantErr: "unsupported driver",
		},
		{
			name: "postgres requires host",
			mutate: func(cfg *Config) {
				cfg.Store.Driver = "postgres"
			},
			wantErr: "postgres host and database are required",
		},
		{
			name: "unknown device type",
			mutate: func(cfg *Config) {
				cfg.Dispatch.DeviceType = "lava"
			},
			wantErr: "unknown device type",
		},
		{
			name: "s3 upload without bucket",
			mutate: func(cfg *Config) {
				cfg.Reports.Upload = &UploadConfig{
					S3: &S3Config{Enabled: true},
				}
			},
			wantErr: "bucket is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, testConfig))
			require.NoError(t, err)

			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStoreConfigToYAML(t *testing.T) {
	cfg := StoreConfig{
		Driver: "sqlite",
		SQLite: SQLiteConfig{Path: "/tmp/db"},
	}

	out, err := cfg.ToYAML()
	require.NoError(t, err)
	assert.Contains(t, out, "driver: sqlite")
	assert.Contains(t, out, "path: /tmp/db")
}

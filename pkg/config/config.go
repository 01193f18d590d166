// Package config defines the application configuration and its loader.
// Configuration is read from a YAML file; any value can be overridden with a
// DISPATCHOOR_-prefixed environment variable.
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "DISPATCHOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultOutputDir is the default directory for job scratch directories
	// and generated reports.
	DefaultOutputDir = "./output"

	// DefaultPlanName is the test plan scheduled for each checkout.
	DefaultPlanName = "fstests"

	// DefaultDeviceType is the device type used when none is configured.
	DefaultDeviceType = "shell"

	// DefaultMaxInFlight is the default bound on concurrently running jobs.
	DefaultMaxInFlight = 1

	// DefaultJobs is the default job parallelism passed to the test runner.
	DefaultJobs = 1

	// DefaultAPIAddress is the default listen address for the status API.
	DefaultAPIAddress = ":8040"
)

// Config is the root configuration.
type Config struct {
	Global   GlobalConfig            `yaml:"global" mapstructure:"global"`
	Store    StoreConfig             `yaml:"store" mapstructure:"store"`
	Dispatch DispatchConfig          `yaml:"dispatch" mapstructure:"dispatch"`
	Plan     PlanConfig              `yaml:"plan" mapstructure:"plan"`
	Devices  map[string]DeviceConfig `yaml:"devices" mapstructure:"devices"`
	Reports  ReportsConfig           `yaml:"reports" mapstructure:"reports"`
	API      APIConfig               `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// StoreConfig selects and configures the record store database.
type StoreConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// SQLiteConfig configures the sqlite driver.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig configures the postgres driver.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"sslmode" mapstructure:"sslmode"`
}

// ToYAML serializes the store configuration for handoff to the execution
// backend, which passes it on to the running job.
func (c *StoreConfig) ToYAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("serializing store config: %w", err)
	}

	return string(data), nil
}

// DispatchConfig contains the dispatch coordinator settings.
type DispatchConfig struct {
	OutputDir   string    `yaml:"output_dir" mapstructure:"output_dir"`
	Jobs        int       `yaml:"jobs" mapstructure:"jobs"`
	MaxInFlight int       `yaml:"max_in_flight" mapstructure:"max_in_flight"`
	NodeID      string    `yaml:"node_id,omitempty" mapstructure:"node_id"`
	DeviceType  string    `yaml:"device_type" mapstructure:"device_type"`
	Kernel      string    `yaml:"kernel,omitempty" mapstructure:"kernel"`
	SrcDir      string    `yaml:"src_dir,omitempty" mapstructure:"src_dir"`
	SkipBuild   bool      `yaml:"skip_build" mapstructure:"skip_build"`
	SSH         SSHConfig `yaml:"ssh" mapstructure:"ssh"`
}

// SSHConfig holds the coordinates of the artifact storage host.
type SSHConfig struct {
	Host string `yaml:"host,omitempty" mapstructure:"host"`
	Port int    `yaml:"port,omitempty" mapstructure:"port"`
	User string `yaml:"user,omitempty" mapstructure:"user"`
	Key  string `yaml:"key,omitempty" mapstructure:"key"`
}

// PlanConfig defines the test plan scheduled for each checkout.
type PlanConfig struct {
	Name   string         `yaml:"name" mapstructure:"name"`
	Params map[string]any `yaml:"params,omitempty" mapstructure:"params"`
}

// DeviceConfig defines a device type and its parameter overrides.
type DeviceConfig struct {
	Params map[string]any `yaml:"params,omitempty" mapstructure:"params"`
}

// ReportsConfig contains the report pipeline settings. Each preset maps block
// names (tests, kbuilds, regressions) to a list of filter items.
type ReportsConfig struct {
	Presets map[string]Preset `yaml:"presets" mapstructure:"presets"`
	Upload  *UploadConfig     `yaml:"upload,omitempty" mapstructure:"upload"`
}

// Preset is a report settings document: block name to filter items.
type Preset map[string][]map[string]any

// UploadConfig configures optional report upload targets.
type UploadConfig struct {
	S3 *S3Config `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3Config configures S3-compatible report upload.
type S3Config struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// APIConfig configures the read-only status API.
type APIConfig struct {
	Enabled        bool     `yaml:"enabled" mapstructure:"enabled"`
	Address        string   `yaml:"address" mapstructure:"address"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty" mapstructure:"allowed_origins"`
	RateLimit      float64  `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
	RateBurst      int      `yaml:"rate_burst,omitempty" mapstructure:"rate_burst"`
}

// Load reads the configuration file at path, applies DISPATCHOOR_ environment
// overrides, defaults and validation.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}

	if c.Store.Driver == "sqlite" && c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = "./dispatchoor.db"
	}

	if c.Dispatch.OutputDir == "" {
		c.Dispatch.OutputDir = DefaultOutputDir
	}

	if c.Dispatch.Jobs <= 0 {
		c.Dispatch.Jobs = DefaultJobs
	}

	if c.Dispatch.MaxInFlight <= 0 {
		c.Dispatch.MaxInFlight = DefaultMaxInFlight
	}

	if c.Dispatch.DeviceType == "" {
		c.Dispatch.DeviceType = DefaultDeviceType
	}

	if c.Plan.Name == "" {
		c.Plan.Name = DefaultPlanName
	}

	if c.Devices == nil {
		c.Devices = map[string]DeviceConfig{
			DefaultDeviceType: {},
		}
	}

	if c.API.Address == "" {
		c.API.Address = DefaultAPIAddress
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store: sqlite path is required")
		}
	case "postgres":
		if c.Store.Postgres.Host == "" || c.Store.Postgres.Database == "" {
			return fmt.Errorf("store: postgres host and database are required")
		}
	default:
		return fmt.Errorf("store: unsupported driver %q", c.Store.Driver)
	}

	if _, ok := c.Devices[c.Dispatch.DeviceType]; !ok {
		return fmt.Errorf("dispatch: unknown device type %q", c.Dispatch.DeviceType)
	}

	if c.Reports.Upload != nil && c.Reports.Upload.S3 != nil &&
		c.Reports.Upload.S3.Enabled && c.Reports.Upload.S3.Bucket == "" {
		return fmt.Errorf("reports: s3 upload enabled but bucket is empty")
	}

	return nil
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Connectivity modes
const (
	ModeManual = "manual"
	ModeFile   = "file"
	ModeProbe  = "probe"
)

// Config represents the application configuration
type Config struct {
	Store        StoreConfig        `yaml:"store"`
	Remote       RemoteConfig       `yaml:"remote"`
	Photos       PhotosConfig       `yaml:"photos"`
	Sync         SyncConfig         `yaml:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	LogLevel     string             `yaml:"log_level"`
	LogFile      LogFileConfig      `yaml:"log_file"`
}

// StoreConfig locates the local database
type StoreConfig struct {
	Path string `yaml:"path"`
}

// RemoteConfig represents the field-service API
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
	DryRun  bool          `yaml:"dry_run"`
}

// PhotosConfig represents the S3-compatible bucket photo evidence is shipped to.
// Photo objects are only uploaded when Endpoint is set.
type PhotosConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
}

// Enabled reports whether photo objects should be uploaded
func (p PhotosConfig) Enabled() bool {
	return p.Endpoint != ""
}

// SyncConfig controls the drain loop
type SyncConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
	Interval       time.Duration `yaml:"interval"`
	StatusInterval time.Duration `yaml:"status_interval"`
	ShowStatus     bool          `yaml:"show_status"`
}

// ConnectivityConfig selects where online/offline readings come from
type ConnectivityConfig struct {
	Mode          string        `yaml:"mode"`
	File          string        `yaml:"file"`
	ProbeURL      string        `yaml:"probe_url"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	Offline       bool          `yaml:"offline"`
}

// MetricsConfig enables the prometheus endpoint when Addr is set
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogFileConfig enables rotated file logging when Path is set
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Store: StoreConfig{
			Path: "./fieldsync.db",
		},
		Remote: RemoteConfig{
			Timeout: 30 * time.Second,
		},
		Photos: PhotosConfig{
			Bucket: "field-photos",
		},
		Sync: SyncConfig{
			MaxRetries:     3,
			HandlerTimeout: 30 * time.Second,
			StatusInterval: 10 * time.Second,
			ShowStatus:     true,
		},
		Connectivity: ConnectivityConfig{
			Mode:          ModeManual,
			ProbeInterval: 15 * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
		LogFile: LogFileConfig{
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with command line flags
	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// RegisterFlags declares every flag loadFromFlags understands
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("db", "", "Path to the local sync database")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-file", "", "Also write logs to this file, rotated")

	flags.String("remote-url", "", "Base URL of the field-service API")
	flags.String("remote-token", "", "Bearer token for the field-service API")
	flags.Duration("remote-timeout", 0, "HTTP timeout for API calls")
	flags.Bool("dry-run", false, "Log mutations instead of sending them")

	flags.String("photos-endpoint", "", "S3-compatible endpoint for photo uploads")
	flags.String("photos-access-key", "", "Photo bucket access key")
	flags.String("photos-secret-key", "", "Photo bucket secret key")
	flags.String("photos-bucket", "", "Photo bucket name")
	flags.Bool("photos-secure", false, "Use HTTPS for the photo endpoint")

	flags.Int("max-retries", 0, "Failed attempts before a mutation is dead-lettered")
	flags.Duration("handler-timeout", 0, "Timeout for a single remote call")
	flags.Duration("sync-interval", 0, "Periodic drain interval (0 = only on reconnect and enqueue)")

	flags.String("connectivity", "", "Connectivity source (manual, file, probe)")
	flags.String("status-file", "", "File holding online/offline for file connectivity")
	flags.String("probe-url", "", "Health URL for probe connectivity")
	flags.Bool("offline", false, "Start offline (manual connectivity)")

	flags.String("metrics-addr", "", "Serve prometheus metrics on this address")
	flags.Bool("show-status", true, "Print sync status periodically while running")
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Changed("db") {
		cfg.Store.Path, _ = flags.GetString("db")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-file") {
		cfg.LogFile.Path, _ = flags.GetString("log-file")
	}

	if flags.Changed("remote-url") {
		cfg.Remote.BaseURL, _ = flags.GetString("remote-url")
	}
	if flags.Changed("remote-token") {
		cfg.Remote.Token, _ = flags.GetString("remote-token")
	}
	if flags.Changed("remote-timeout") {
		cfg.Remote.Timeout, _ = flags.GetDuration("remote-timeout")
	}
	if flags.Changed("dry-run") {
		cfg.Remote.DryRun, _ = flags.GetBool("dry-run")
	}

	if flags.Changed("photos-endpoint") {
		cfg.Photos.Endpoint, _ = flags.GetString("photos-endpoint")
	}
	if flags.Changed("photos-access-key") {
		cfg.Photos.AccessKey, _ = flags.GetString("photos-access-key")
	}
	if flags.Changed("photos-secret-key") {
		cfg.Photos.SecretKey, _ = flags.GetString("photos-secret-key")
	}
	if flags.Changed("photos-bucket") {
		cfg.Photos.Bucket, _ = flags.GetString("photos-bucket")
	}
	if flags.Changed("photos-secure") {
		cfg.Photos.Secure, _ = flags.GetBool("photos-secure")
	}

	if flags.Changed("max-retries") {
		cfg.Sync.MaxRetries, _ = flags.GetInt("max-retries")
	}
	if flags.Changed("handler-timeout") {
		cfg.Sync.HandlerTimeout, _ = flags.GetDuration("handler-timeout")
	}
	if flags.Changed("sync-interval") {
		cfg.Sync.Interval, _ = flags.GetDuration("sync-interval")
	}
	if flags.Changed("show-status") {
		cfg.Sync.ShowStatus, _ = flags.GetBool("show-status")
	}

	if flags.Changed("connectivity") {
		cfg.Connectivity.Mode, _ = flags.GetString("connectivity")
	}
	if flags.Changed("status-file") {
		cfg.Connectivity.File, _ = flags.GetString("status-file")
	}
	if flags.Changed("probe-url") {
		cfg.Connectivity.ProbeURL, _ = flags.GetString("probe-url")
	}
	if flags.Changed("offline") {
		cfg.Connectivity.Offline, _ = flags.GetBool("offline")
	}

	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
	}

	return nil
}

func (c *Config) validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}

	if c.Sync.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}
	if c.Sync.HandlerTimeout <= 0 {
		return fmt.Errorf("handler timeout must be positive")
	}
	if c.Sync.Interval < 0 {
		return fmt.Errorf("sync interval cannot be negative")
	}

	switch c.Connectivity.Mode {
	case ModeManual:
	case ModeFile:
		if c.Connectivity.File == "" {
			return fmt.Errorf("status file is required for file connectivity")
		}
	case ModeProbe:
		if c.Connectivity.ProbeURL == "" {
			return fmt.Errorf("probe url is required for probe connectivity")
		}
		if c.Connectivity.ProbeInterval <= 0 {
			return fmt.Errorf("probe interval must be positive")
		}
	default:
		return fmt.Errorf("unknown connectivity mode %q", c.Connectivity.Mode)
	}

	if c.Photos.Enabled() {
		if c.Photos.AccessKey == "" {
			return fmt.Errorf("photos access key is required")
		}
		if c.Photos.SecretKey == "" {
			return fmt.Errorf("photos secret key is required")
		}
		if c.Photos.Bucket == "" {
			return fmt.Errorf("photos bucket is required")
		}
	}

	return nil
}

// RequireRemote reports an error unless mutations have somewhere to go
func (c *Config) RequireRemote() error {
	if c.Remote.DryRun || c.Remote.BaseURL != "" {
		return nil
	}
	return fmt.Errorf("remote base url is required (or use --dry-run)")
}

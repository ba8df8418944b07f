package config

import "context"

// Package config provides configuration management for enrolytics.
//
// Responsibilities:
//   - Load configuration from a YAML file, environment variables, and CLI flags
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Report configuration file changes (settings apply on the next run)
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. CLI flags (highest priority)
//   2. Environment variables (ENROLYTICS_* prefix)
//   3. YAML config file (default: enrolytics.yaml)
//   4. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Input
//      - dir: base directory joined to relative table paths
//      - registrations / biometric_updates / demographic_updates: CSV tables
//      - projections: optional growth-rate table (empty disables the feature)
//
//   2. Output
//      - dir: directory for exported CSV tables
//      - database: SQLite result store path (empty disables persistence)
//
//   3. Detect
//      - zscore_threshold: standardized-deviation flag threshold (σ)
//      - spike_threshold_pct: period-over-period relative-change threshold
//      - contamination: expected anomaly fraction for the density model
//      - consensus_min: detector agreement needed for the high-priority list
//      - seed: RNG seed for the density model (reproducibility requirement)
//      - min_regions: minimum population for fitting the density model
//      - forest.trees / forest.subsample: isolation forest shape
//
//   4. Server (serve mode)
//      - host / port, read/write/shutdown timeouts in seconds
//      - allowed_origins: WebSocket origin allow list
//
//   5. Logging
//      - level, file path, rotation limits, console toggle
//
//   6. Audit
//      - run journal file, buffering, flush interval
//
//   7. Metrics
//      - enabled: expose Prometheus collectors and /metrics in serve mode

// Config contains all configuration fields. The yaml tags match the
// config file keys, so a rendered Config is itself a valid config file.
type Config struct {
	// Input table locations
	Input struct {
		Dir                string `yaml:"dir" json:"dir"`
		Registrations      string `yaml:"registrations" json:"registrations"`
		BiometricUpdates   string `yaml:"biometric_updates" json:"biometric_updates"`
		DemographicUpdates string `yaml:"demographic_updates" json:"demographic_updates"`
		// Projections is optional. When set, per-region growth rates are
		// loaded and tracked as an extra feature.
		Projections string `yaml:"projections" json:"projections"`
	} `yaml:"input" json:"input"`

	// Output locations
	Output struct {
		Dir      string `yaml:"dir" json:"dir"`
		Database string `yaml:"database" json:"database"`
	} `yaml:"output" json:"output"`

	// Detection thresholds and model shape
	Detect struct {
		ZScoreThreshold   float64 `yaml:"zscore_threshold" json:"zscore_threshold"`
		SpikeThresholdPct float64 `yaml:"spike_threshold_pct" json:"spike_threshold_pct"`
		Contamination     float64 `yaml:"contamination" json:"contamination"`
		ConsensusMin      int     `yaml:"consensus_min" json:"consensus_min"`
		Seed              int64   `yaml:"seed" json:"seed"`
		MinRegions        int     `yaml:"min_regions" json:"min_regions"`
		Forest            struct {
			Trees     int `yaml:"trees" json:"trees"`
			Subsample int `yaml:"subsample" json:"subsample"`
		} `yaml:"forest" json:"forest"`
	} `yaml:"detect" json:"detect"`

	// Server configuration (serve mode)
	Server struct {
		Host            string `yaml:"host" json:"host"`
		Port            int    `yaml:"port" json:"port"`
		ReadTimeout     int    `yaml:"read_timeout" json:"read_timeout"`
		WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout"`
		ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"`
		// AllowedOrigins is the WebSocket origin allow list. Empty
		// falls back to the development origins; "*" accepts any.
		AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	} `yaml:"server" json:"server"`

	// Logging configuration
	Logging struct {
		Level      string `yaml:"level" json:"level"`
		File       string `yaml:"file" json:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups" json:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
		Compress   bool   `yaml:"compress" json:"compress"`
		Console    bool   `yaml:"console" json:"console"`
	} `yaml:"logging" json:"logging"`

	// Audit run journal configuration
	Audit struct {
		Enabled       bool   `yaml:"enabled" json:"enabled"`
		File          string `yaml:"file" json:"file"`
		BufferSize    int    `yaml:"buffer_size" json:"buffer_size"`
		FlushInterval int    `yaml:"flush_interval" json:"flush_interval"`
	} `yaml:"audit" json:"audit"`

	// Metrics configuration
	Metrics struct {
		Enabled bool `yaml:"enabled" json:"enabled"`
	} `yaml:"metrics" json:"metrics"`
}

// Manager defines the interface for configuration access.
type Manager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration file changes and emits the reloaded
	// configuration. Changed settings apply to the next run.
	Watch(ctx context.Context) <-chan Config

	// Reload re-reads configuration from sources.
	Reload(ctx context.Context) error
}

// NewManager creates a configuration manager reading the given file.
func NewManager(configPath string) (Manager, error) {
	mgr := &viperManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewManagerWithDefaults creates a manager with the default config path.
func NewManagerWithDefaults() (Manager, error) {
	return NewManager("enrolytics.yaml")
}

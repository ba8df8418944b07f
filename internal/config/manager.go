package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperManager implements Manager using Viper.
type viperManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("ENROLYTICS")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// The config file is optional: defaults plus env vars are a complete
	// configuration on their own.
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// no file, use defaults
		} else if os.IsNotExist(err) {
			// no file, use defaults
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	return nil
}

// Get returns the current configuration.
func (m *viperManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration file changes and reloads.
func (m *viperManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		select {
		case m.watchChan <- *m.config:
		default:
			// channel full, skip this update
		}
	})

	return m.watchChan
}

// Reload re-reads configuration from sources.
func (m *viperManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	return nil
}

// setDefaults sets default values in viper.
func (m *viperManager) setDefaults() {
	defaults := DefaultConfig()

	// Input defaults
	m.viper.SetDefault("input.dir", defaults.Input.Dir)
	m.viper.SetDefault("input.registrations", defaults.Input.Registrations)
	m.viper.SetDefault("input.biometric_updates", defaults.Input.BiometricUpdates)
	m.viper.SetDefault("input.demographic_updates", defaults.Input.DemographicUpdates)
	m.viper.SetDefault("input.projections", defaults.Input.Projections)

	// Output defaults
	m.viper.SetDefault("output.dir", defaults.Output.Dir)
	m.viper.SetDefault("output.database", defaults.Output.Database)

	// Detection defaults
	m.viper.SetDefault("detect.zscore_threshold", defaults.Detect.ZScoreThreshold)
	m.viper.SetDefault("detect.spike_threshold_pct", defaults.Detect.SpikeThresholdPct)
	m.viper.SetDefault("detect.contamination", defaults.Detect.Contamination)
	m.viper.SetDefault("detect.consensus_min", defaults.Detect.ConsensusMin)
	m.viper.SetDefault("detect.seed", defaults.Detect.Seed)
	m.viper.SetDefault("detect.min_regions", defaults.Detect.MinRegions)
	m.viper.SetDefault("detect.forest.trees", defaults.Detect.Forest.Trees)
	m.viper.SetDefault("detect.forest.subsample", defaults.Detect.Forest.Subsample)

	// Server defaults
	m.viper.SetDefault("server.host", defaults.Server.Host)
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.read_timeout", defaults.Server.ReadTimeout)
	m.viper.SetDefault("server.write_timeout", defaults.Server.WriteTimeout)
	m.viper.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.file", defaults.Logging.File)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	m.viper.SetDefault("logging.compress", defaults.Logging.Compress)
	m.viper.SetDefault("logging.console", defaults.Logging.Console)

	// Audit defaults
	m.viper.SetDefault("audit.enabled", defaults.Audit.Enabled)
	m.viper.SetDefault("audit.file", defaults.Audit.File)
	m.viper.SetDefault("audit.buffer_size", defaults.Audit.BufferSize)
	m.viper.SetDefault("audit.flush_interval", defaults.Audit.FlushInterval)

	// Metrics defaults
	m.viper.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
}

// unmarshalConfig unmarshals viper config into the Config struct.
func (m *viperManager) unmarshalConfig() error {
	cfg := &Config{}

	// Input
	cfg.Input.Dir = m.viper.GetString("input.dir")
	cfg.Input.Registrations = m.viper.GetString("input.registrations")
	cfg.Input.BiometricUpdates = m.viper.GetString("input.biometric_updates")
	cfg.Input.DemographicUpdates = m.viper.GetString("input.demographic_updates")
	cfg.Input.Projections = m.viper.GetString("input.projections")

	// Output
	cfg.Output.Dir = m.viper.GetString("output.dir")
	cfg.Output.Database = m.viper.GetString("output.database")

	// Detect
	cfg.Detect.ZScoreThreshold = m.viper.GetFloat64("detect.zscore_threshold")
	cfg.Detect.SpikeThresholdPct = m.viper.GetFloat64("detect.spike_threshold_pct")
	cfg.Detect.Contamination = m.viper.GetFloat64("detect.contamination")
	cfg.Detect.ConsensusMin = m.viper.GetInt("detect.consensus_min")
	cfg.Detect.Seed = m.viper.GetInt64("detect.seed")
	cfg.Detect.MinRegions = m.viper.GetInt("detect.min_regions")
	cfg.Detect.Forest.Trees = m.viper.GetInt("detect.forest.trees")
	cfg.Detect.Forest.Subsample = m.viper.GetInt("detect.forest.subsample")

	// Server
	cfg.Server.Host = m.viper.GetString("server.host")
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.ReadTimeout = m.viper.GetInt("server.read_timeout")
	cfg.Server.WriteTimeout = m.viper.GetInt("server.write_timeout")
	cfg.Server.ShutdownTimeout = m.viper.GetInt("server.shutdown_timeout")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.File = m.viper.GetString("logging.file")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")
	cfg.Logging.Compress = m.viper.GetBool("logging.compress")
	cfg.Logging.Console = m.viper.GetBool("logging.console")

	// Audit
	cfg.Audit.Enabled = m.viper.GetBool("audit.enabled")
	cfg.Audit.File = m.viper.GetString("audit.file")
	cfg.Audit.BufferSize = m.viper.GetInt("audit.buffer_size")
	cfg.Audit.FlushInterval = m.viper.GetInt("audit.flush_interval")

	// Metrics
	cfg.Metrics.Enabled = m.viper.GetBool("metrics.enabled")

	m.config = cfg
	return nil
}

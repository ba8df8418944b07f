package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Input tables are required; projections stay optional.
	if c.Input.Registrations == "" {
		errs = append(errs, &ValidationError{
			Field:   "input.registrations",
			Message: "registrations table path is required",
		})
	}
	if c.Input.BiometricUpdates == "" {
		errs = append(errs, &ValidationError{
			Field:   "input.biometric_updates",
			Message: "biometric updates table path is required",
		})
	}
	if c.Input.DemographicUpdates == "" {
		errs = append(errs, &ValidationError{
			Field:   "input.demographic_updates",
			Message: "demographic updates table path is required",
		})
	}

	if c.Output.Dir == "" {
		errs = append(errs, &ValidationError{
			Field:   "output.dir",
			Message: "output directory is required",
		})
	}

	// Detection thresholds
	if c.Detect.ZScoreThreshold <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "detect.zscore_threshold",
			Message: fmt.Sprintf("zscore_threshold must be positive, got %v", c.Detect.ZScoreThreshold),
		})
	}
	if c.Detect.SpikeThresholdPct <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "detect.spike_threshold_pct",
			Message: fmt.Sprintf("spike_threshold_pct must be positive, got %v", c.Detect.SpikeThresholdPct),
		})
	}
	if c.Detect.Contamination < 0.01 || c.Detect.Contamination > 0.5 {
		errs = append(errs, &ValidationError{
			Field:   "detect.contamination",
			Message: fmt.Sprintf("contamination must be between 0.01 and 0.5, got %v", c.Detect.Contamination),
		})
	}
	if c.Detect.ConsensusMin < 1 || c.Detect.ConsensusMin > 3 {
		errs = append(errs, &ValidationError{
			Field:   "detect.consensus_min",
			Message: fmt.Sprintf("consensus_min must be between 1 and 3, got %d", c.Detect.ConsensusMin),
		})
	}
	if c.Detect.MinRegions < 2 {
		errs = append(errs, &ValidationError{
			Field:   "detect.min_regions",
			Message: fmt.Sprintf("min_regions must be at least 2, got %d", c.Detect.MinRegions),
		})
	}
	if c.Detect.Forest.Trees < 1 {
		errs = append(errs, &ValidationError{
			Field:   "detect.forest.trees",
			Message: fmt.Sprintf("forest.trees must be at least 1, got %d", c.Detect.Forest.Trees),
		})
	}
	if c.Detect.Forest.Subsample < 2 {
		errs = append(errs, &ValidationError{
			Field:   "detect.forest.subsample",
			Message: fmt.Sprintf("forest.subsample must be at least 2, got %d", c.Detect.Forest.Subsample),
		})
	}

	// Server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}
	if c.Server.ReadTimeout < 1 {
		errs = append(errs, &ValidationError{
			Field:   "server.read_timeout",
			Message: fmt.Sprintf("read_timeout must be at least 1 second, got %d", c.Server.ReadTimeout),
		})
	}
	if c.Server.WriteTimeout < 1 {
		errs = append(errs, &ValidationError{
			Field:   "server.write_timeout",
			Message: fmt.Sprintf("write_timeout must be at least 1 second, got %d", c.Server.WriteTimeout),
		})
	}
	if c.Server.ShutdownTimeout < 1 {
		errs = append(errs, &ValidationError{
			Field:   "server.shutdown_timeout",
			Message: fmt.Sprintf("shutdown_timeout must be at least 1 second, got %d", c.Server.ShutdownTimeout),
		})
	}

	// Logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}
	if c.Logging.MaxSizeMB < 1 {
		errs = append(errs, &ValidationError{
			Field:   "logging.max_size_mb",
			Message: fmt.Sprintf("max_size_mb must be at least 1, got %d", c.Logging.MaxSizeMB),
		})
	}
	if c.Logging.MaxBackups < 0 {
		errs = append(errs, &ValidationError{
			Field:   "logging.max_backups",
			Message: fmt.Sprintf("max_backups cannot be negative, got %d", c.Logging.MaxBackups),
		})
	}
	if c.Logging.MaxAgeDays < 0 {
		errs = append(errs, &ValidationError{
			Field:   "logging.max_age_days",
			Message: fmt.Sprintf("max_age_days cannot be negative, got %d", c.Logging.MaxAgeDays),
		})
	}

	// Audit configuration
	if c.Audit.Enabled {
		if c.Audit.File == "" {
			errs = append(errs, &ValidationError{
				Field:   "audit.file",
				Message: "audit file is required when audit is enabled",
			})
		}
		if c.Audit.BufferSize < 1 {
			errs = append(errs, &ValidationError{
				Field:   "audit.buffer_size",
				Message: fmt.Sprintf("buffer_size must be at least 1, got %d", c.Audit.BufferSize),
			})
		}
		if c.Audit.FlushInterval < 1 {
			errs = append(errs, &ValidationError{
				Field:   "audit.flush_interval",
				Message: fmt.Sprintf("flush_interval must be at least 1 second, got %d", c.Audit.FlushInterval),
			})
		}
	}

	return errs
}

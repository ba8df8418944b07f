package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Input defaults
	cfg.Input.Dir = "data"
	cfg.Input.Registrations = "registrations.csv"
	cfg.Input.BiometricUpdates = "biometric_updates.csv"
	cfg.Input.DemographicUpdates = "demographic_updates.csv"
	cfg.Input.Projections = "" // disabled unless configured

	// Output defaults
	cfg.Output.Dir = "out"
	cfg.Output.Database = "enrolytics.db"

	// Detection defaults
	cfg.Detect.ZScoreThreshold = 3.0
	cfg.Detect.SpikeThresholdPct = 50.0
	cfg.Detect.Contamination = 0.10
	cfg.Detect.ConsensusMin = 2
	cfg.Detect.Seed = 42
	cfg.Detect.MinRegions = 10
	cfg.Detect.Forest.Trees = 100
	cfg.Detect.Forest.Subsample = 256

	// Server defaults
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 15
	cfg.Server.WriteTimeout = 30
	cfg.Server.ShutdownTimeout = 10
	cfg.Server.AllowedOrigins = nil // development origins

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.File = "logs/enrolytics.log"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true
	cfg.Logging.Console = true

	// Audit defaults
	cfg.Audit.Enabled = true
	cfg.Audit.File = "logs/audit.log"
	cfg.Audit.BufferSize = 100
	cfg.Audit.FlushInterval = 5

	// Metrics defaults
	cfg.Metrics.Enabled = true

	return cfg
}

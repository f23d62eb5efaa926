package config

import "time"

// SchedulerConfig holds runtime configuration for the cyflow scheduler.
type SchedulerConfig struct {
	Addr         string        // Control API listen address (default ":8214")
	LogLevel     string        // Log level: debug, info, warn, error
	LogFormat    string        // Log format: text, json
	DBPath       string        // SQLite database path (":memory:" for testing)
	TickInterval time.Duration // Main loop cadence
	StallTimeout time.Duration // Inactivity window before the pool is stalled
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Addr:         ":8214",
		LogLevel:     "info",
		LogFormat:    "text",
		TickInterval: time.Second,
		StallTimeout: time.Hour,
	}
}

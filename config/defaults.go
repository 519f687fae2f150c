package config

import (
	"time"
)

// DefaultConfig returns the configuration used when no file or
// environment overrides are present.
func DefaultConfig() *Config {
	return &Config{
		Registry: RegistryConfig{
			ContextDir: "./context",
		},
		Memory: MemoryConfig{
			Type:    "file",
			BaseDir: "./data/memory",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				PoolSize:  10,
				KeyPrefix: "forgectx:",
			},
			Database: DatabaseConfig{
				Driver: "sqlite",
				DSN:    "./data/memory.db",
			},
			Limits: LimitsConfig{
				Default: 500,
				PerFileType: map[string]int{
					"project_overview": 200,
					"review_history":   300,
				},
			},
		},
		Lifecycle: LifecycleConfig{
			FreshDays:    30,
			ActiveDays:   90,
			StaleDays:    180,
			ScanRate:     2,
			ScanBurst:    4,
			ScanInterval: 24 * time.Hour,
		},
		Provider: ProviderConfig{
			DefaultFileBudget: 5,
		},
		Orchestrator: OrchestratorConfig{
			StoreTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Addr:      ":9090",
			Namespace: "forgectx",
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "forgectx",
			SampleRate:  1.0,
		},
	}
}

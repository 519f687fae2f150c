package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/forgeworks/forgectx/lifecycle"
	"github.com/forgeworks/forgectx/memory"
	"github.com/forgeworks/forgectx/provider"
	"golang.org/x/time/rate"
)

// Config is the complete subsystem configuration.
type Config struct {
	// Registry locates the context artifact tree.
	Registry RegistryConfig `yaml:"registry" env:"REGISTRY"`

	// Memory selects and tunes the store backend.
	Memory MemoryConfig `yaml:"memory" env:"MEMORY"`

	// Lifecycle sets the freshness thresholds and scan limits.
	Lifecycle LifecycleConfig `yaml:"lifecycle" env:"LIFECYCLE"`

	// Provider tunes context selection.
	Provider ProviderConfig `yaml:"provider" env:"PROVIDER"`

	// Orchestrator bounds store waits during an invocation.
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`

	// Metrics exposes the prometheus listener.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Log configures the zap logger.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures the OTel SDK.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// RegistryConfig locates the artifact tree: one subdirectory per
// domain, markdown files with YAML frontmatter.
type RegistryConfig struct {
	ContextDir string `yaml:"context_dir" env:"CONTEXT_DIR"`
}

// MemoryConfig mirrors the store configuration with env-overridable
// fields.
type MemoryConfig struct {
	// Type is memory, file, redis or database.
	Type     string         `yaml:"type" env:"TYPE"`
	BaseDir  string         `yaml:"base_dir" env:"BASE_DIR"`
	Redis    RedisConfig    `yaml:"redis" env:"REDIS"`
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
	Limits   LimitsConfig   `yaml:"limits" env:"LIMITS"`
}

// RedisConfig tunes the redis backend.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig tunes the gorm backend.
type DatabaseConfig struct {
	// Driver is sqlite, postgres or mysql.
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
}

// LimitsConfig bounds memory record growth in lines. Per-fileType
// overrides are YAML-only.
type LimitsConfig struct {
	Default     int            `yaml:"default" env:"DEFAULT"`
	PerFileType map[string]int `yaml:"per_file_type" env:"-"`
}

// StoreConfig converts to the memory package's configuration.
func (c MemoryConfig) StoreConfig() memory.StoreConfig {
	return memory.StoreConfig{
		Type:    memory.StoreType(c.Type),
		BaseDir: c.BaseDir,
		Redis: memory.RedisConfig{
			Addr:      c.Redis.Addr,
			Password:  c.Redis.Password,
			DB:        c.Redis.DB,
			PoolSize:  c.Redis.PoolSize,
			KeyPrefix: c.Redis.KeyPrefix,
		},
		Database: memory.DatabaseConfig{
			Driver: c.Database.Driver,
			DSN:    c.Database.DSN,
		},
		Limits: memory.SizeLimits{
			Default:     c.Limits.Default,
			PerFileType: c.Limits.PerFileType,
		},
	}
}

// LifecycleConfig sets the freshness threshold table in days and the
// scan rate limit.
type LifecycleConfig struct {
	FreshDays  int     `yaml:"fresh_days" env:"FRESH_DAYS"`
	ActiveDays int     `yaml:"active_days" env:"ACTIVE_DAYS"`
	StaleDays  int     `yaml:"stale_days" env:"STALE_DAYS"`
	ScanRate   float64 `yaml:"scan_rate" env:"SCAN_RATE"`
	ScanBurst  int     `yaml:"scan_burst" env:"SCAN_BURST"`
	// ScanInterval spaces periodic scan rounds in serve mode.
	ScanInterval time.Duration `yaml:"scan_interval" env:"SCAN_INTERVAL"`
}

// ManagerConfig converts to the lifecycle package's configuration,
// sharing the store's size limits.
func (c LifecycleConfig) ManagerConfig(limits memory.SizeLimits) lifecycle.ManagerConfig {
	const day = 24 * time.Hour
	return lifecycle.ManagerConfig{
		Thresholds: lifecycle.Thresholds{
			Fresh:  time.Duration(c.FreshDays) * day,
			Active: time.Duration(c.ActiveDays) * day,
			Stale:  time.Duration(c.StaleDays) * day,
		},
		Limits:       limits,
		ScanRate:     rate.Limit(c.ScanRate),
		ScanBurst:    c.ScanBurst,
		ScanInterval: c.ScanInterval,
	}
}

// ProviderConfig tunes context selection.
type ProviderConfig struct {
	// DefaultFileBudget applies to profiles that declare none.
	DefaultFileBudget int `yaml:"default_file_budget" env:"DEFAULT_FILE_BUDGET"`
	// Triggers declares the cross-domain trigger table. YAML-only.
	Triggers []TriggerConfig `yaml:"triggers" env:"-"`
}

// TriggerConfig is one declarative cross-domain trigger row, keyword
// form only. Programmatic callers needing func-valued conditions build
// their table through provider.NewTriggerTable instead.
type TriggerConfig struct {
	PrimaryDomain string   `yaml:"primary_domain"`
	Keywords      []string `yaml:"keywords"`
	SecondaryRef  string   `yaml:"secondary_ref"`
	// Tier is security, schema, performance or infrastructure.
	Tier string `yaml:"tier"`
}

// TriggerTable builds the provider's trigger table from the declared
// rows. No rows means cross-domain loading stays disabled.
func (c ProviderConfig) TriggerTable() (*provider.TriggerTable, error) {
	if len(c.Triggers) == 0 {
		return nil, nil
	}
	rows := make([]provider.CrossDomainTrigger, 0, len(c.Triggers))
	for i, t := range c.Triggers {
		tier, err := provider.ParseTier(t.Tier)
		if err != nil {
			return nil, fmt.Errorf("trigger %d (%s): %w", i, t.SecondaryRef, err)
		}
		rows = append(rows, provider.CrossDomainTrigger{
			PrimaryDomain: t.PrimaryDomain,
			Keywords:      t.Keywords,
			SecondaryRef:  t.SecondaryRef,
			Tier:          tier,
		})
	}
	return provider.NewTriggerTable(rows)
}

// OrchestratorConfig bounds the orchestrator's store waits.
type OrchestratorConfig struct {
	StoreTimeout time.Duration `yaml:"store_timeout" env:"STORE_TIMEOUT"`
}

// MetricsConfig exposes the prometheus /metrics listener.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Addr      string `yaml:"addr" env:"ADDR"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format      string   `yaml:"format" env:"FORMAT"`
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig configures the OTel SDK.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	var errs []string

	switch memory.StoreType(c.Memory.Type) {
	case memory.StoreTypeMemory, memory.StoreTypeFile, memory.StoreTypeRedis, memory.StoreTypeDatabase:
	default:
		errs = append(errs, fmt.Sprintf("unknown memory store type %q", c.Memory.Type))
	}

	thresholds := c.Lifecycle.ManagerConfig(memory.SizeLimits{}).Thresholds
	if err := thresholds.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if c.Provider.DefaultFileBudget <= 0 {
		errs = append(errs, "default_file_budget must be positive")
	}
	if _, err := c.Provider.TriggerTable(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Orchestrator.StoreTimeout <= 0 {
		errs = append(errs, "store_timeout must be positive")
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, "telemetry enabled without an OTLP endpoint")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

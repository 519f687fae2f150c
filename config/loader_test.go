package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/forgectx/memory"
	"github.com/forgeworks/forgectx/provider"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "file", cfg.Memory.Type)
	assert.Equal(t, 30, cfg.Lifecycle.FreshDays)
	assert.Equal(t, 5, cfg.Provider.DefaultFileBudget)
}

func TestLoader_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
registry:
  context_dir: /srv/context
memory:
  type: redis
  redis:
    addr: redis.internal:6379
lifecycle:
  stale_days: 365
provider:
  default_file_budget: 3
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/context", cfg.Registry.ContextDir)
	assert.Equal(t, "redis", cfg.Memory.Type)
	assert.Equal(t, "redis.internal:6379", cfg.Memory.Redis.Addr)
	assert.Equal(t, 365, cfg.Lifecycle.StaleDays)
	assert.Equal(t, 3, cfg.Provider.DefaultFileBudget)
	// Untouched fields keep their defaults.
	assert.Equal(t, "forgectx:", cfg.Memory.Redis.KeyPrefix)
	assert.Equal(t, 90, cfg.Lifecycle.ActiveDays)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("memory:\n  type: redis\n"), 0o644))

	t.Setenv("FORGECTX_MEMORY_TYPE", "database")
	t.Setenv("FORGECTX_MEMORY_DATABASE_DRIVER", "postgres")
	t.Setenv("FORGECTX_ORCHESTRATOR_STORE_TIMEOUT", "250ms")
	t.Setenv("FORGECTX_METRICS_ENABLED", "true")
	t.Setenv("FORGECTX_LOG_OUTPUT_PATHS", "stdout, /var/log/forgectx.log")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "database", cfg.Memory.Type, "env wins over file")
	assert.Equal(t, "postgres", cfg.Memory.Database.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Orchestrator.StoreTimeout)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, []string{"stdout", "/var/log/forgectx.log"}, cfg.Log.OutputPaths)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Memory.Type, cfg.Memory.Type)
}

func TestLoader_Validator(t *testing.T) {
	_, err := NewLoader().WithValidator(func(c *Config) error {
		return c.Validate()
	}).Load()
	assert.NoError(t, err)

	t.Setenv("FORGECTX_MEMORY_TYPE", "carrier-pigeon")
	_, err = NewLoader().WithValidator(func(c *Config) error {
		return c.Validate()
	}).Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lifecycle.FreshDays = 180
	cfg.Lifecycle.ActiveDays = 90
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.OTLPEndpoint = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Provider.DefaultFileBudget = 0
	assert.Error(t, cfg.Validate())
}

func TestLoader_TriggerTableFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider:
  triggers:
    - primary_domain: python
      keywords: [auth, jwt]
      secondary_ref: security/auth_checklist
      tier: security
    - primary_domain: python
      keywords: [migration]
      secondary_ref: schema/migration_safety
      tier: schema
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	table, err := cfg.Provider.TriggerTable()
	require.NoError(t, err)
	require.NotNil(t, table)

	rows := table.ForDomain("python")
	require.Len(t, rows, 2)
	assert.Equal(t, "security/auth_checklist", rows[0].SecondaryRef)
	assert.Equal(t, provider.TierSecurity, rows[0].Tier)
	assert.Equal(t, provider.TierSchema, rows[1].Tier)
	assert.True(t, rows[0].Fires(provider.DetectionSignals{Keywords: []string{"jwt"}}))
}

func TestConfig_ValidateRejectsBadTrigger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.Triggers = []TriggerConfig{
		{PrimaryDomain: "python", Keywords: []string{"auth"}, SecondaryRef: "security/auth_checklist", Tier: "urgent"},
	}
	assert.Error(t, cfg.Validate())

	cfg.Provider.Triggers[0].Tier = "security"
	assert.NoError(t, cfg.Validate())

	cfg.Provider.Triggers[0].SecondaryRef = "python/self"
	assert.Error(t, cfg.Validate(), "self-referential triggers are rejected")
}

func TestProviderConfig_EmptyTriggersDisableCrossDomain(t *testing.T) {
	table, err := DefaultConfig().Provider.TriggerTable()
	require.NoError(t, err)
	assert.Nil(t, table)
}

func TestMemoryConfig_StoreConfig(t *testing.T) {
	cfg := DefaultConfig()
	store := cfg.Memory.StoreConfig()

	assert.Equal(t, memory.StoreTypeFile, store.Type)
	assert.Equal(t, "forgectx:", store.Redis.KeyPrefix)
	assert.Equal(t, 200, store.Limits.LimitFor("project_overview"))
	assert.Equal(t, 500, store.Limits.LimitFor("anything_else"))
}

func TestLifecycleConfig_ManagerConfig(t *testing.T) {
	cfg := DefaultConfig()
	mc := cfg.Lifecycle.ManagerConfig(memory.DefaultSizeLimits())

	assert.Equal(t, 30*24*time.Hour, mc.Thresholds.Fresh)
	assert.Equal(t, 180*24*time.Hour, mc.Thresholds.Stale)
	assert.Equal(t, 24*time.Hour, mc.ScanInterval)
	assert.NoError(t, mc.Thresholds.Validate())
}

package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forgeworks/forgectx/registry"
)

// triggerRegistry holds a python primary domain plus security and
// schema secondary domains with one artifact each.
func triggerRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(zap.NewNop())
	require.NoError(t, reg.Register(index("python", "common_issues")))
	require.NoError(t, reg.Register(artifact("python", "common_issues", registry.TypeReference, registry.StrategyAlways)))
	require.NoError(t, reg.Register(index("security", "auth_checklist")))
	require.NoError(t, reg.Register(artifact("security", "auth_checklist", registry.TypeReference, registry.StrategyOnDemand, "auth")))
	require.NoError(t, reg.Register(index("schema", "migration_safety")))
	require.NoError(t, reg.Register(artifact("schema", "migration_safety", registry.TypeReference, registry.StrategyOnDemand, "migration")))
	return reg
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		name string
		want Tier
	}{
		{"security", TierSecurity},
		{"Schema", TierSchema},
		{"performance", TierPerformance},
		{"INFRASTRUCTURE", TierInfrastructure},
	}
	for _, tt := range tests {
		got, err := ParseTier(tt.name)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseTier("urgent")
	assert.ErrorIs(t, err, ErrMalformedTrigger)
}

func TestNewTriggerTable_Validation(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		_, err := NewTriggerTable([]CrossDomainTrigger{
			{PrimaryDomain: "python", Keywords: []string{"auth"}, SecondaryRef: "security/auth_checklist", Tier: TierSecurity},
		})
		assert.NoError(t, err)
	})

	t.Run("malformed ref", func(t *testing.T) {
		_, err := NewTriggerTable([]CrossDomainTrigger{
			{PrimaryDomain: "python", SecondaryRef: "noslash"},
		})
		assert.ErrorIs(t, err, ErrMalformedTrigger)
	})

	t.Run("self-referential", func(t *testing.T) {
		_, err := NewTriggerTable([]CrossDomainTrigger{
			{PrimaryDomain: "python", SecondaryRef: "python/common_issues"},
		})
		assert.ErrorIs(t, err, ErrMalformedTrigger)
	})

	t.Run("cycle", func(t *testing.T) {
		_, err := NewTriggerTable([]CrossDomainTrigger{
			{PrimaryDomain: "python", SecondaryRef: "security/auth_checklist"},
			{PrimaryDomain: "security", SecondaryRef: "schema/migration_safety"},
			{PrimaryDomain: "schema", SecondaryRef: "python/common_issues"},
		})
		assert.ErrorIs(t, err, ErrTriggerCycle)
	})
}

// Security (tier 1) and schema (tier 2) both fire with one budget slot
// left: only security is admitted, schema is priority-preempted.
func TestProvider_CrossDomainPriorityPreemption(t *testing.T) {
	table, err := NewTriggerTable([]CrossDomainTrigger{
		// Declared lower-tier first so the security trigger must evict it.
		{PrimaryDomain: "python", Keywords: []string{"migration"}, SecondaryRef: "schema/migration_safety", Tier: TierSchema},
		{PrimaryDomain: "python", Keywords: []string{"auth"}, SecondaryRef: "security/auth_checklist", Tier: TierSecurity},
	})
	require.NoError(t, err)

	p := New(triggerRegistry(t), table, nil, zap.NewNop())
	signals := DetectionSignals{Keywords: []string{"auth", "migration"}}

	sels, skipped, warnings := p.CrossDomainContext("python", signals, 1)
	require.Len(t, sels, 1)
	assert.Equal(t, "auth_checklist", sels[0].Artifact.ID)
	require.Len(t, skipped, 1)
	assert.Equal(t, "schema/migration_safety", skipped[0].ArtifactID)
	assert.Equal(t, ReasonPriorityPreempted, skipped[0].Reason)
	assert.Empty(t, warnings)
}

func TestProvider_CrossDomainRejectsWeakerArrival(t *testing.T) {
	table, err := NewTriggerTable([]CrossDomainTrigger{
		{PrimaryDomain: "python", Keywords: []string{"auth"}, SecondaryRef: "security/auth_checklist", Tier: TierSecurity},
		{PrimaryDomain: "python", Keywords: []string{"migration"}, SecondaryRef: "schema/migration_safety", Tier: TierSchema},
	})
	require.NoError(t, err)

	p := New(triggerRegistry(t), table, nil, zap.NewNop())
	signals := DetectionSignals{Keywords: []string{"auth", "migration"}}

	sels, skipped, _ := p.CrossDomainContext("python", signals, 1)
	require.Len(t, sels, 1)
	assert.Equal(t, "auth_checklist", sels[0].Artifact.ID)
	require.Len(t, skipped, 1)
	assert.Equal(t, ReasonPriorityPreempted, skipped[0].Reason)
}

func TestProvider_CrossDomainBudgetFitsAll(t *testing.T) {
	table, err := NewTriggerTable([]CrossDomainTrigger{
		{PrimaryDomain: "python", Keywords: []string{"migration"}, SecondaryRef: "schema/migration_safety", Tier: TierSchema},
		{PrimaryDomain: "python", Keywords: []string{"auth"}, SecondaryRef: "security/auth_checklist", Tier: TierSecurity},
	})
	require.NoError(t, err)

	p := New(triggerRegistry(t), table, nil, zap.NewNop())
	signals := DetectionSignals{Keywords: []string{"auth", "migration"}}

	sels, skipped, _ := p.CrossDomainContext("python", signals, 2)
	require.Len(t, sels, 2)
	// Presented tier-ascending regardless of declaration order.
	assert.Equal(t, "auth_checklist", sels[0].Artifact.ID)
	assert.Equal(t, "migration_safety", sels[1].Artifact.ID)
	assert.Empty(t, skipped)
}

func TestProvider_CrossDomainMissingTarget(t *testing.T) {
	table, err := NewTriggerTable([]CrossDomainTrigger{
		{PrimaryDomain: "python", Keywords: []string{"auth"}, SecondaryRef: "security/deleted_file", Tier: TierSecurity},
	})
	require.NoError(t, err)

	p := New(triggerRegistry(t), table, nil, zap.NewNop())
	sels, skipped, warnings := p.CrossDomainContext("python", DetectionSignals{Keywords: []string{"auth"}}, 3)

	assert.Empty(t, sels)
	require.Len(t, skipped, 1)
	assert.Equal(t, ReasonMissingArtifact, skipped[0].Reason)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "security/deleted_file")
}

func TestProvider_CrossDomainConditionFunc(t *testing.T) {
	table, err := NewTriggerTable([]CrossDomainTrigger{
		{
			PrimaryDomain: "python",
			Condition: func(s DetectionSignals) bool {
				return len(s.Keywords) >= 2
			},
			SecondaryRef: "security/auth_checklist",
			Tier:         TierSecurity,
		},
	})
	require.NoError(t, err)

	p := New(triggerRegistry(t), table, nil, nil)

	sels, _, _ := p.CrossDomainContext("python", DetectionSignals{Keywords: []string{"a"}}, 3)
	assert.Empty(t, sels)

	sels, _, _ = p.CrossDomainContext("python", DetectionSignals{Keywords: []string{"a", "b"}}, 3)
	assert.Len(t, sels, 1)
}

func TestTriggerTable_ForDomainOrder(t *testing.T) {
	table, err := NewTriggerTable([]CrossDomainTrigger{
		{PrimaryDomain: "python", SecondaryRef: "security/a", Tier: TierSecurity},
		{PrimaryDomain: "dotnet", SecondaryRef: "security/b", Tier: TierSecurity},
		{PrimaryDomain: "python", SecondaryRef: "schema/c", Tier: TierSchema},
	})
	require.NoError(t, err)

	rows := table.ForDomain("python")
	require.Len(t, rows, 2)
	assert.Equal(t, "security/a", rows[0].SecondaryRef)
	assert.Equal(t, "schema/c", rows[1].SecondaryRef)
}

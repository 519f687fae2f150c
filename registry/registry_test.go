package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testArtifact(domain, id string, typ ArtifactType, strategy LoadingStrategy) *ContextArtifact {
	return &ContextArtifact{
		ID:              id,
		Domain:          domain,
		Title:           id,
		Type:            typ,
		LoadingStrategy: strategy,
		EstimatedTokens: 500,
		Version:         "1.0",
		LastUpdated:     time.Now(),
	}
}

func testIndex(domain string, indexed ...string) *ContextArtifact {
	idx := testArtifact(domain, "index", TypeIndex, StrategyAlways)
	for _, id := range indexed {
		idx.IndexedFiles = append(idx.IndexedFiles, IndexedFile{
			ID: id, Type: TypeReference, LoadingStrategy: StrategyOnDemand,
		})
	}
	return idx
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	reg := New(zap.NewNop())

	require.NoError(t, reg.Register(testIndex("python", "common_issues")))
	require.NoError(t, reg.Register(testArtifact("python", "common_issues", TypeReference, StrategyAlways)))
	require.NoError(t, reg.Register(testArtifact("python", "django_patterns", TypePattern, StrategyOnDemand)))

	artifacts, err := reg.ResolveIndex("python")
	require.NoError(t, err)
	require.Len(t, artifacts, 3)
	assert.True(t, artifacts[0].IsIndex(), "index must come first")
	assert.Equal(t, "common_issues", artifacts[1].ID)
	assert.Equal(t, "django_patterns", artifacts[2].ID)
}

func TestRegistry_ResolveIsIdempotent(t *testing.T) {
	reg := New(nil)
	require.NoError(t, reg.Register(testIndex("git")))
	require.NoError(t, reg.Register(testArtifact("git", "workflows", TypeReference, StrategyOnDemand)))
	require.NoError(t, reg.Register(testArtifact("git", "hooks", TypeReference, StrategyOnDemand)))

	first, err := reg.ResolveIndex("git")
	require.NoError(t, err)
	second, err := reg.ResolveIndex("git")
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestRegistry_DomainNotFound(t *testing.T) {
	reg := New(nil)
	_, err := reg.ResolveIndex("nonexistent")
	assert.ErrorIs(t, err, ErrDomainNotFound)
}

func TestRegistry_DuplicateIndexRejected(t *testing.T) {
	reg := New(nil)
	require.NoError(t, reg.Register(testIndex("dotnet")))

	second := testArtifact("dotnet", "index2", TypeIndex, StrategyAlways)
	err := reg.Register(second)
	assert.ErrorIs(t, err, ErrDuplicateArtifact)
}

func TestRegistry_DuplicateArtifactRejected(t *testing.T) {
	reg := New(nil)
	require.NoError(t, reg.Register(testArtifact("python", "a", TypeReference, StrategyOnDemand)))
	err := reg.Register(testArtifact("python", "a", TypeReference, StrategyOnDemand))
	assert.ErrorIs(t, err, ErrDuplicateArtifact)
}

func TestRegistry_ValidateMissingIndexedFile(t *testing.T) {
	reg := New(nil)
	require.NoError(t, reg.Register(testIndex("schema", "migrations")))

	err := reg.Validate()
	assert.ErrorIs(t, err, ErrInvalidArtifact)
}

func TestRegistry_ValidateMissingIndex(t *testing.T) {
	reg := New(nil)
	require.NoError(t, reg.Register(testArtifact("security", "owasp", TypeReference, StrategyOnDemand)))

	err := reg.Validate()
	assert.ErrorIs(t, err, ErrInvalidArtifact)
}

func TestArtifact_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ContextArtifact)
		wantErr bool
	}{
		{"valid", func(a *ContextArtifact) {}, false},
		{"missing id", func(a *ContextArtifact) { a.ID = "" }, true},
		{"missing domain", func(a *ContextArtifact) { a.Domain = "" }, true},
		{"bad type", func(a *ContextArtifact) { a.Type = "banana" }, true},
		{"bad strategy", func(a *ContextArtifact) { a.LoadingStrategy = "sometimes" }, true},
		{"negative tokens", func(a *ContextArtifact) { a.EstimatedTokens = -1 }, true},
		{"oversized tokens", func(a *ContextArtifact) { a.EstimatedTokens = 20000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testArtifact("python", "x", TypeReference, StrategyOnDemand)
			tt.mutate(a)
			err := a.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestArtifact_IndexMustBeAlways(t *testing.T) {
	a := testArtifact("python", "index", TypeIndex, StrategyOnDemand)
	assert.ErrorIs(t, a.Validate(), ErrInvalidArtifact)
}

func TestSplitRef(t *testing.T) {
	domain, id, ok := SplitRef("security/owasp_top10")
	require.True(t, ok)
	assert.Equal(t, "security", domain)
	assert.Equal(t, "owasp_top10", id)

	_, _, ok = SplitRef("noslash")
	assert.False(t, ok)
	_, _, ok = SplitRef("/missing")
	assert.False(t, ok)
}

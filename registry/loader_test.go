package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const pythonIndex = `---
id: index
domain: python
title: Python Domain Index
type: index
loadingStrategy: always
estimatedTokens: 300
version: "1.0"
tags: [python]
indexedFiles:
  - id: common_issues
    type: reference
    loadingStrategy: always
  - id: fastapi_patterns
    type: pattern
    loadingStrategy: onDemand
---
# Python Domain

Index body.
`

const commonIssues = `---
id: common_issues
domain: python
title: Common Python Issues
type: reference
loadingStrategy: always
estimatedTokens: 900
version: "1.2"
tags: [python, debugging]
sections:
  - name: Imports
    estimatedTokens: 200
    keywords: [import, module]
---
Common issues body.
`

const fastapiPatterns = `---
id: fastapi_patterns
domain: python
title: FastAPI Patterns
type: pattern
loadingStrategy: onDemand
estimatedTokens: 1200
version: "1.0"
tags: [fastapi, async, api]
---
FastAPI patterns body.
`

func writeContextTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

func TestDirectoryLoader_LoadDomain(t *testing.T) {
	root := writeContextTree(t, map[string]string{
		"python/index.md":            pythonIndex,
		"python/common_issues.md":    commonIssues,
		"python/fastapi_patterns.md": fastapiPatterns,
	})

	loader := NewDirectoryLoader(root, zap.NewNop())
	artifacts, warnings, err := loader.LoadDomain("python")
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, artifacts, 3)

	// Lexical order: common_issues, fastapi_patterns, index
	assert.Equal(t, "common_issues", artifacts[0].ID)
	assert.Equal(t, "fastapi_patterns", artifacts[1].ID)
	assert.Equal(t, "index", artifacts[2].ID)
	assert.Equal(t, 900, artifacts[0].EstimatedTokens)
}

func TestDirectoryLoader_SkipsBadFiles(t *testing.T) {
	root := writeContextTree(t, map[string]string{
		"python/index.md":         pythonIndex,
		"python/common_issues.md": commonIssues,
		"python/broken.md":        "no frontmatter here",
		"python/notes.txt":        "ignored entirely",
	})

	loader := NewDirectoryLoader(root, zap.NewNop())
	artifacts, warnings, err := loader.LoadDomain("python")
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Path, "broken.md")
	assert.Len(t, artifacts, 2)
}

func TestDirectoryLoader_DomainMismatch(t *testing.T) {
	root := writeContextTree(t, map[string]string{
		// common_issues declares domain python but lives under git
		"git/common_issues.md": commonIssues,
	})

	loader := NewDirectoryLoader(root, nil)
	artifacts, warnings, err := loader.LoadDomain("git")
	require.NoError(t, err)
	assert.Empty(t, artifacts)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Reason, "does not match directory")
}

func TestDirectoryLoader_MissingDomain(t *testing.T) {
	loader := NewDirectoryLoader(t.TempDir(), nil)
	_, _, err := loader.LoadDomain("nope")
	assert.ErrorIs(t, err, ErrDomainNotFound)
}

func TestDirectoryLoader_LoadAll(t *testing.T) {
	root := writeContextTree(t, map[string]string{
		"python/index.md":            pythonIndex,
		"python/common_issues.md":    commonIssues,
		"python/fastapi_patterns.md": fastapiPatterns,
	})

	loader := NewDirectoryLoader(root, zap.NewNop())
	reg, warnings, err := loader.LoadAll(zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, []string{"python"}, reg.Domains())

	artifacts, err := reg.ResolveIndex("python")
	require.NoError(t, err)
	require.Len(t, artifacts, 3)
	assert.True(t, artifacts[0].IsIndex())
}

func TestParseArtifact_TokenEstimateFallback(t *testing.T) {
	raw := `---
id: no_tokens
domain: python
title: Estimate Me
type: reference
loadingStrategy: onDemand
version: "1.0"
---
Some body text that should produce a nonzero token estimate.
`
	artifact, err := ParseArtifact([]byte(raw))
	require.NoError(t, err)
	assert.Greater(t, artifact.EstimatedTokens, 0)
	assert.LessOrEqual(t, artifact.EstimatedTokens, maxEstimatedTokens)
}

func TestParseArtifact_Unterminated(t *testing.T) {
	_, err := ParseArtifact([]byte("---\nid: x\ndomain: d\n"))
	assert.ErrorIs(t, err, ErrUnreadableArtifact)
}

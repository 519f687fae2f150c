package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// LoadWarning records an artifact file that could not be loaded.
// Unreadable artifacts degrade to warnings, never hard failures.
type LoadWarning struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// DirectoryLoader reads a context tree laid out as
// <root>/<domain>/<artifact>.md, each file carrying YAML frontmatter.
// Concurrent loads of the same domain are deduplicated.
type DirectoryLoader struct {
	root   string
	group  singleflight.Group
	logger *zap.Logger
}

// NewDirectoryLoader creates a loader rooted at the given context directory.
func NewDirectoryLoader(root string, logger *zap.Logger) *DirectoryLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryLoader{
		root:   root,
		logger: logger.With(zap.String("component", "registry_loader")),
	}
}

type loadResult struct {
	artifacts []*ContextArtifact
	warnings  []LoadWarning
}

// LoadDomain parses every markdown artifact in one domain directory.
// Files are visited in lexical order so declaration order is stable.
func (l *DirectoryLoader) LoadDomain(domain string) ([]*ContextArtifact, []LoadWarning, error) {
	v, err, _ := l.group.Do(domain, func() (interface{}, error) {
		return l.loadDomain(domain)
	})
	if err != nil {
		return nil, nil, err
	}
	res := v.(*loadResult)
	return res.artifacts, res.warnings, nil
}

func (l *DirectoryLoader) loadDomain(domain string) (*loadResult, error) {
	dir := filepath.Join(l.root, domain)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrDomainNotFound, domain)
	}
	if err != nil {
		return nil, fmt.Errorf("read domain directory %s: %w", dir, err)
	}

	res := &loadResult{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		raw, err := os.ReadFile(path)
		if err != nil {
			res.warnings = append(res.warnings, LoadWarning{Path: path, Reason: err.Error()})
			l.logger.Warn("skipping unreadable artifact", zap.String("path", path), zap.Error(err))
			continue
		}

		artifact, err := ParseArtifact(raw)
		if err != nil {
			res.warnings = append(res.warnings, LoadWarning{Path: path, Reason: err.Error()})
			l.logger.Warn("skipping unparseable artifact", zap.String("path", path), zap.Error(err))
			continue
		}

		if artifact.Domain != domain {
			res.warnings = append(res.warnings, LoadWarning{
				Path:   path,
				Reason: fmt.Sprintf("declared domain %q does not match directory %q", artifact.Domain, domain),
			})
			continue
		}

		res.artifacts = append(res.artifacts, artifact)
	}

	return res, nil
}

// LoadAll builds a registry from every domain directory under the root.
// Individual bad files are skipped with warnings; a domain whose index
// is missing fails registry validation afterwards.
func (l *DirectoryLoader) LoadAll(logger *zap.Logger) (*Registry, []LoadWarning, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, nil, fmt.Errorf("read context root %s: %w", l.root, err)
	}

	domains := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			domains = append(domains, entry.Name())
		}
	}
	sort.Strings(domains)

	reg := New(logger)
	var warnings []LoadWarning
	for _, domain := range domains {
		artifacts, ws, err := l.LoadDomain(domain)
		if err != nil {
			return nil, nil, err
		}
		warnings = append(warnings, ws...)
		for _, a := range artifacts {
			if err := reg.Register(a); err != nil {
				warnings = append(warnings, LoadWarning{
					Path:   filepath.Join(l.root, domain, a.ID+".md"),
					Reason: err.Error(),
				})
			}
		}
	}

	if err := reg.Validate(); err != nil {
		return nil, warnings, err
	}

	l.logger.Info("context tree loaded",
		zap.Int("domains", len(domains)),
		zap.Int("warnings", len(warnings)))

	return reg, warnings, nil
}

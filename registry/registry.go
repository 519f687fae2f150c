package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Common errors
var (
	ErrDomainNotFound     = errors.New("domain not found")
	ErrArtifactNotFound   = errors.New("artifact not found")
	ErrInvalidArtifact    = errors.New("invalid artifact")
	ErrUnreadableArtifact = errors.New("unreadable artifact")
	ErrDuplicateArtifact  = errors.New("duplicate artifact")
)

// Registry is the per-domain catalog of context artifacts. Artifacts are
// held in declared order; ResolveIndex returns identical ordered results
// across calls absent an explicit mutation.
type Registry struct {
	domains map[string][]*ContextArtifact
	byRef   map[string]*ContextArtifact // "domain/id" -> artifact
	mu      sync.RWMutex
	logger  *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		domains: make(map[string][]*ContextArtifact),
		byRef:   make(map[string]*ContextArtifact),
		logger:  logger.With(zap.String("component", "registry")),
	}
}

// Register adds an artifact to its domain in declaration order.
func (r *Registry) Register(artifact *ContextArtifact) error {
	if artifact == nil {
		return ErrInvalidArtifact
	}
	if err := artifact.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ref := Ref(artifact.Domain, artifact.ID)
	if _, exists := r.byRef[ref]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateArtifact, ref)
	}
	if artifact.IsIndex() {
		for _, existing := range r.domains[artifact.Domain] {
			if existing.IsIndex() {
				return fmt.Errorf("%w: domain %s already has index %s",
					ErrDuplicateArtifact, artifact.Domain, existing.ID)
			}
		}
	}

	r.domains[artifact.Domain] = append(r.domains[artifact.Domain], artifact)
	r.byRef[ref] = artifact

	r.logger.Debug("artifact registered",
		zap.String("domain", artifact.Domain),
		zap.String("id", artifact.ID),
		zap.String("type", string(artifact.Type)))

	return nil
}

// ResolveIndex returns the domain's artifact descriptors in declared
// order, index artifact first. The result is a copy; callers may not
// mutate registry state through it. Fails with ErrDomainNotFound when
// the domain has no index artifact.
func (r *Registry) ResolveIndex(domain string) ([]*ContextArtifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	artifacts, ok := r.domains[domain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDomainNotFound, domain)
	}

	var index *ContextArtifact
	rest := make([]*ContextArtifact, 0, len(artifacts))
	for _, a := range artifacts {
		if a.IsIndex() {
			index = a
			continue
		}
		rest = append(rest, a)
	}
	if index == nil {
		return nil, fmt.Errorf("%w: domain %s has no index artifact", ErrDomainNotFound, domain)
	}

	out := make([]*ContextArtifact, 0, len(artifacts))
	out = append(out, index)
	out = append(out, rest...)
	return out, nil
}

// Get returns the artifact addressed by "domain/id".
func (r *Registry) Get(domain, id string) (*ContextArtifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	artifact, ok := r.byRef[Ref(domain, id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, Ref(domain, id))
	}
	return artifact, nil
}

// Domains returns all registered domain names, sorted.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.domains))
	for d := range r.domains {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Validate checks the catalog invariants: every domain has exactly one
// index artifact with loadingStrategy always, and every indexedFiles
// entry resolves to a registered artifact in the same domain.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for domain, artifacts := range r.domains {
		var index *ContextArtifact
		for _, a := range artifacts {
			if a.IsIndex() {
				if index != nil {
					return fmt.Errorf("%w: domain %s has multiple index artifacts", ErrInvalidArtifact, domain)
				}
				index = a
			}
			if a.Domain != domain {
				return fmt.Errorf("%w: artifact %s filed under domain %s declares domain %s",
					ErrInvalidArtifact, a.ID, domain, a.Domain)
			}
		}
		if index == nil {
			return fmt.Errorf("%w: domain %s has no index artifact", ErrInvalidArtifact, domain)
		}
		if index.LoadingStrategy != StrategyAlways {
			return fmt.Errorf("%w: domain %s index must use loadingStrategy always", ErrInvalidArtifact, domain)
		}

		for _, entry := range index.IndexedFiles {
			if _, ok := r.byRef[Ref(domain, entry.ID)]; !ok {
				return fmt.Errorf("%w: domain %s index references missing artifact %s",
					ErrInvalidArtifact, domain, entry.ID)
			}
		}
	}
	return nil
}

// Ref builds the canonical "domain/id" artifact reference.
func Ref(domain, id string) string {
	return domain + "/" + id
}

// SplitRef splits a "domain/id" reference. The second return is false
// when the reference is malformed.
func SplitRef(ref string) (domain, id string, ok bool) {
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

package registry

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"gopkg.in/yaml.v3"
)

// ArtifactType classifies a context artifact.
type ArtifactType string

const (
	// TypeIndex marks the single per-domain index artifact.
	TypeIndex ArtifactType = "index"
	// TypeReference marks factual reference material.
	TypeReference ArtifactType = "reference"
	// TypePattern marks reusable solution patterns.
	TypePattern ArtifactType = "pattern"
)

// LoadingStrategy controls when an artifact is admitted to a working set.
type LoadingStrategy string

const (
	// StrategyAlways loads the artifact on every invocation (hard floor).
	StrategyAlways LoadingStrategy = "always"
	// StrategyOnDemand loads the artifact only when detection signals match.
	StrategyOnDemand LoadingStrategy = "onDemand"
)

// Section describes one addressable section of an artifact body.
// Keywords feed the conditional-context relevance scoring.
type Section struct {
	Name            string   `yaml:"name" json:"name"`
	EstimatedTokens int      `yaml:"estimatedTokens" json:"estimated_tokens"`
	Keywords        []string `yaml:"keywords" json:"keywords"`
}

// IndexedFile is one entry of an index artifact's file listing.
type IndexedFile struct {
	ID              string          `yaml:"id" json:"id"`
	Type            ArtifactType    `yaml:"type" json:"type"`
	LoadingStrategy LoadingStrategy `yaml:"loadingStrategy" json:"loading_strategy"`
}

// ContextArtifact is a discrete, independently loadable unit of static
// reference knowledge. The registry only ever handles descriptors; Body
// is carried for token estimation and handed to the executor untouched.
type ContextArtifact struct {
	ID              string          `yaml:"id" json:"id"`
	Domain          string          `yaml:"domain" json:"domain"`
	Title           string          `yaml:"title" json:"title"`
	Type            ArtifactType    `yaml:"type" json:"type"`
	LoadingStrategy LoadingStrategy `yaml:"loadingStrategy" json:"loading_strategy"`
	EstimatedTokens int             `yaml:"estimatedTokens" json:"estimated_tokens"`
	Version         string          `yaml:"version" json:"version"`
	LastUpdated     time.Time       `yaml:"lastUpdated" json:"last_updated"`
	Tags            []string        `yaml:"tags" json:"tags"`
	Sections        []Section       `yaml:"sections" json:"sections,omitempty"`

	// IndexedFiles is populated only on index artifacts and enumerates
	// every other artifact in the domain.
	IndexedFiles []IndexedFile `yaml:"indexedFiles" json:"indexed_files,omitempty"`

	// Body is the raw markdown content below the frontmatter.
	Body string `yaml:"-" json:"-"`
}

// IsIndex reports whether the artifact is its domain's index.
func (a *ContextArtifact) IsIndex() bool {
	return a.Type == TypeIndex
}

// Keywords returns the union of artifact tags and section keywords,
// lowercasing is left to the ranking strategy.
func (a *ContextArtifact) Keywords() []string {
	out := make([]string, 0, len(a.Tags))
	out = append(out, a.Tags...)
	for _, s := range a.Sections {
		out = append(out, s.Keywords...)
	}
	return out
}

// Validate checks the descriptor invariants shared by all artifact types.
func (a *ContextArtifact) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidArtifact)
	}
	if a.Domain == "" {
		return fmt.Errorf("%w: artifact %s has no domain", ErrInvalidArtifact, a.ID)
	}
	switch a.Type {
	case TypeIndex, TypeReference, TypePattern:
	default:
		return fmt.Errorf("%w: artifact %s has unknown type %q", ErrInvalidArtifact, a.ID, a.Type)
	}
	switch a.LoadingStrategy {
	case StrategyAlways, StrategyOnDemand:
	default:
		return fmt.Errorf("%w: artifact %s has unknown loadingStrategy %q", ErrInvalidArtifact, a.ID, a.LoadingStrategy)
	}
	if a.IsIndex() && a.LoadingStrategy != StrategyAlways {
		return fmt.Errorf("%w: index artifact %s must use loadingStrategy always", ErrInvalidArtifact, a.ID)
	}
	if a.EstimatedTokens < 0 || a.EstimatedTokens > maxEstimatedTokens {
		return fmt.Errorf("%w: artifact %s estimatedTokens %d out of range", ErrInvalidArtifact, a.ID, a.EstimatedTokens)
	}
	return nil
}

// maxEstimatedTokens is the upper bound a single artifact may declare.
// Anything larger should be split into sections or separate artifacts.
const maxEstimatedTokens = 9999

var frontmatterDelim = []byte("---")

// ParseArtifact parses a markdown artifact file with YAML frontmatter.
// When the frontmatter omits estimatedTokens, the body is counted with
// tiktoken as an advisory estimate.
func ParseArtifact(raw []byte) (*ContextArtifact, error) {
	fm, body, err := splitFrontmatter(raw)
	if err != nil {
		return nil, err
	}

	var artifact ContextArtifact
	if err := yaml.Unmarshal(fm, &artifact); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableArtifact, err)
	}
	artifact.Body = string(body)

	if artifact.EstimatedTokens == 0 && len(body) > 0 {
		n, err := estimateTokens(artifact.Body)
		if err != nil {
			// tiktoken may be unavailable offline; a bytes/4 heuristic
			// is close enough for advisory metadata.
			n = len(artifact.Body) / 4
		}
		if n > maxEstimatedTokens {
			n = maxEstimatedTokens
		}
		if n == 0 {
			n = 1
		}
		artifact.EstimatedTokens = n
	}

	if err := artifact.Validate(); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// splitFrontmatter separates the leading YAML frontmatter block from the
// markdown body. The frontmatter must open and close with a "---" line.
func splitFrontmatter(raw []byte) (frontmatter, body []byte, err error) {
	trimmed := bytes.TrimLeft(raw, "\n\r\t ")
	if !bytes.HasPrefix(trimmed, frontmatterDelim) {
		return nil, nil, fmt.Errorf("%w: no YAML frontmatter", ErrUnreadableArtifact)
	}

	rest := trimmed[len(frontmatterDelim):]
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return nil, nil, fmt.Errorf("%w: unterminated frontmatter", ErrUnreadableArtifact)
	}

	frontmatter = rest[:end]
	body = rest[end+len("\n---"):]
	body = bytes.TrimLeft(body, "\n\r")
	return frontmatter, body, nil
}

var (
	tokenEncOnce sync.Once
	tokenEnc     *tiktoken.Tiktoken
	tokenEncErr  error
)

// estimateTokens counts body tokens with the cl100k_base encoding.
// The encoding is initialized once; token counts are advisory metadata
// and never participate in budget admission.
func estimateTokens(text string) (int, error) {
	tokenEncOnce.Do(func() {
		tokenEnc, tokenEncErr = tiktoken.GetEncoding("cl100k_base")
	})
	if tokenEncErr != nil {
		return 0, fmt.Errorf("init tiktoken encoding: %w", tokenEncErr)
	}
	return len(tokenEnc.Encode(text, nil, nil)), nil
}

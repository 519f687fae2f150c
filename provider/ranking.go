package provider

import (
	"strings"

	"github.com/forgeworks/forgectx/registry"
)

// DetectionSignals carries what was detected about the task environment
// before context resolution: stack names, frameworks, commands, plus any
// signals recalled from project memory.
type DetectionSignals struct {
	Keywords []string `json:"keywords"`
}

// Merge returns the union of two signal sets, preserving order and
// dropping duplicates.
func (s DetectionSignals) Merge(other DetectionSignals) DetectionSignals {
	seen := make(map[string]bool, len(s.Keywords)+len(other.Keywords))
	out := make([]string, 0, len(s.Keywords)+len(other.Keywords))
	for _, lst := range [][]string{s.Keywords, other.Keywords} {
		for _, k := range lst {
			key := strings.ToLower(k)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, k)
		}
	}
	return DetectionSignals{Keywords: out}
}

// Empty reports whether no signals were detected.
func (s DetectionSignals) Empty() bool {
	return len(s.Keywords) == 0
}

// RankingStrategy scores an artifact's relevance to a signal set.
// Higher is more relevant; zero means no relevance. Implementations
// must be deterministic: equal inputs produce equal scores.
type RankingStrategy interface {
	Score(artifact *registry.ContextArtifact, signals DetectionSignals) int
}

// OverlapRanking is the default strategy: the number of distinct signal
// keywords that appear among the artifact's tags and section keywords,
// case-insensitive. Ties are broken by declared order downstream.
type OverlapRanking struct{}

// Score counts distinct keyword overlaps.
func (OverlapRanking) Score(artifact *registry.ContextArtifact, signals DetectionSignals) int {
	if signals.Empty() {
		return 0
	}

	candidates := make(map[string]bool)
	for _, k := range artifact.Keywords() {
		candidates[strings.ToLower(k)] = true
	}
	if len(candidates) == 0 {
		return 0
	}

	score := 0
	seen := make(map[string]bool, len(signals.Keywords))
	for _, sig := range signals.Keywords {
		key := strings.ToLower(sig)
		if seen[key] {
			continue
		}
		seen[key] = true
		if candidates[key] {
			score++
		}
	}
	return score
}

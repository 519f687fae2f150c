package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/forgeworks/forgectx/registry"
)

// Tier orders cross-domain triggers by importance. Lower values win
// budget contention.
type Tier int

const (
	TierSecurity       Tier = 1
	TierSchema         Tier = 2
	TierPerformance    Tier = 3
	TierInfrastructure Tier = 4
)

// ParseTier maps a tier name from configuration to its ordinal.
func ParseTier(name string) (Tier, error) {
	switch strings.ToLower(name) {
	case "security":
		return TierSecurity, nil
	case "schema":
		return TierSchema, nil
	case "performance":
		return TierPerformance, nil
	case "infrastructure":
		return TierInfrastructure, nil
	}
	return 0, fmt.Errorf("%w: unknown tier %q", ErrMalformedTrigger, name)
}

// String returns the tier name for manifests and logs.
func (t Tier) String() string {
	switch t {
	case TierSecurity:
		return "security"
	case TierSchema:
		return "schema"
	case TierPerformance:
		return "performance"
	case TierInfrastructure:
		return "infrastructure"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// CrossDomainTrigger loads a secondary domain's artifact when a
// primary-domain condition holds. Condition takes precedence when set;
// otherwise the trigger fires when any of Keywords appears in the
// detection signals.
type CrossDomainTrigger struct {
	PrimaryDomain string
	Condition     func(DetectionSignals) bool
	Keywords      []string
	SecondaryRef  string // "domain/artifact"
	Tier          Tier
}

// Fires evaluates the trigger condition against the signals.
func (t CrossDomainTrigger) Fires(signals DetectionSignals) bool {
	if t.Condition != nil {
		return t.Condition(signals)
	}
	for _, want := range t.Keywords {
		for _, have := range signals.Keywords {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

var (
	ErrMalformedTrigger = errors.New("malformed cross-domain trigger")
	ErrTriggerCycle     = errors.New("cross-domain trigger cycle")
)

// TriggerTable holds cross-domain triggers in declaration order.
// Declaration order is the tie-break for equal (tier, score) candidates.
type TriggerTable struct {
	rows []CrossDomainTrigger
}

// NewTriggerTable validates and stores the trigger rows. References are
// "domain/artifact", a domain never triggers itself, and trigger edges
// must not form cycles.
func NewTriggerTable(rows []CrossDomainTrigger) (*TriggerTable, error) {
	edges := make(map[string][]string)
	for i, row := range rows {
		secondaryDomain, _, ok := registry.SplitRef(row.SecondaryRef)
		if !ok {
			return nil, fmt.Errorf("%w: row %d ref %q", ErrMalformedTrigger, i, row.SecondaryRef)
		}
		if row.PrimaryDomain == "" {
			return nil, fmt.Errorf("%w: row %d has no primary domain", ErrMalformedTrigger, i)
		}
		if secondaryDomain == row.PrimaryDomain {
			return nil, fmt.Errorf("%w: row %d domain %s triggers itself", ErrMalformedTrigger, i, row.PrimaryDomain)
		}
		edges[row.PrimaryDomain] = append(edges[row.PrimaryDomain], secondaryDomain)
	}

	if cycle := findCycle(edges); cycle != "" {
		return nil, fmt.Errorf("%w: involving domain %s", ErrTriggerCycle, cycle)
	}

	return &TriggerTable{rows: rows}, nil
}

// ForDomain returns the triggers declared for a primary domain, in
// declaration order.
func (t *TriggerTable) ForDomain(domain string) []CrossDomainTrigger {
	if t == nil {
		return nil
	}
	var out []CrossDomainTrigger
	for _, row := range t.rows {
		if row.PrimaryDomain == domain {
			out = append(out, row)
		}
	}
	return out
}

// findCycle walks the trigger graph and returns a domain on a cycle,
// or "" when the graph is acyclic.
func findCycle(edges map[string][]string) string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(edges))

	var visit func(string) string
	visit = func(node string) string {
		state[node] = inStack
		for _, next := range edges[node] {
			switch state[next] {
			case inStack:
				return next
			case unvisited:
				if hit := visit(next); hit != "" {
					return hit
				}
			}
		}
		state[node] = done
		return ""
	}

	for node := range edges {
		if state[node] == unvisited {
			if hit := visit(node); hit != "" {
				return hit
			}
		}
	}
	return ""
}

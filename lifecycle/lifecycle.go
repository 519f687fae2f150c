// Package lifecycle classifies context artifacts and memory records
// into freshness tiers and produces maintenance signals. Classification
// is derived state, never stored; compaction is explicit and never
// deletes knowledge outright.
package lifecycle

import (
	"fmt"
	"time"
)

// Tier is the freshness classification of a piece of knowledge.
type Tier string

const (
	TierFresh    Tier = "fresh"
	TierActive   Tier = "active"
	TierStale    Tier = "stale"
	TierArchived Tier = "archived"
)

// rank orders tiers from freshest to most aged.
func (t Tier) rank() int {
	switch t {
	case TierFresh:
		return 0
	case TierActive:
		return 1
	case TierStale:
		return 2
	default:
		return 3
	}
}

// FresherThan reports whether t is strictly fresher than other.
func (t Tier) FresherThan(other Tier) bool {
	return t.rank() < other.rank()
}

// Thresholds is the age table shared by every caller. Content younger
// than or exactly Fresh old is fresh; younger than Active is active;
// younger than Stale is stale; anything older is archived.
type Thresholds struct {
	Fresh  time.Duration `json:"fresh" yaml:"fresh"`
	Active time.Duration `json:"active" yaml:"active"`
	Stale  time.Duration `json:"stale" yaml:"stale"`
}

// DefaultThresholds returns the standard 30/90/180-day table.
func DefaultThresholds() Thresholds {
	const day = 24 * time.Hour
	return Thresholds{
		Fresh:  30 * day,
		Active: 90 * day,
		Stale:  180 * day,
	}
}

// Validate checks that the table is strictly ascending.
func (t Thresholds) Validate() error {
	if t.Fresh <= 0 || t.Active <= t.Fresh || t.Stale <= t.Active {
		return fmt.Errorf("staleness thresholds must be ascending: fresh=%s active=%s stale=%s",
			t.Fresh, t.Active, t.Stale)
	}
	return nil
}

// Classify maps a last-updated timestamp to its freshness tier at the
// given observation time. Day 30 is still fresh, day 31 is active; day
// 90 is the first stale day; day 180 is the first archived day.
// Classification is monotone: an older timestamp never classifies
// fresher than a newer one.
func (t Thresholds) Classify(updatedAt, now time.Time) Tier {
	age := now.Sub(updatedAt)
	switch {
	case age <= t.Fresh:
		return TierFresh
	case age < t.Active:
		return TierActive
	case age < t.Stale:
		return TierStale
	default:
		return TierArchived
	}
}

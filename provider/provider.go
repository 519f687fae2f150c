package provider

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/forgeworks/forgectx/registry"
)

// Source records which admission stage selected an artifact.
type Source string

const (
	SourceAlways      Source = "always"
	SourceConditional Source = "conditional"
	SourceCrossDomain Source = "cross-domain"
)

// Skip reasons surfaced in the session manifest.
const (
	ReasonNotRelevant       = "not-relevant"
	ReasonBudgetExhausted   = "budget-exhausted"
	ReasonPriorityPreempted = "priority-preempted"
	ReasonMissingArtifact   = "missing-artifact"
	ReasonAlreadySelected   = "already-selected"
)

// Selection is one admitted artifact with its provenance.
type Selection struct {
	Artifact *registry.ContextArtifact `json:"artifact"`
	Score    int                       `json:"score"`
	Source   Source                    `json:"source"`
}

// Skipped is one artifact that was considered and rejected. ArtifactID
// always carries the canonical "domain/id" reference.
type Skipped struct {
	ArtifactID string `json:"artifact_id"`
	Reason     string `json:"reason"`
}

// Resolution is the outcome of one context-resolution pass.
type Resolution struct {
	WorkingSet      []Selection `json:"working_set"`
	Skipped         []Skipped   `json:"skipped"`
	Warnings        []string    `json:"warnings"`
	BudgetRemaining int         `json:"budget_remaining"`
}

// Provider selects working sets against a registry snapshot.
type Provider struct {
	reg      *registry.Registry
	triggers *TriggerTable
	ranking  RankingStrategy
	logger   *zap.Logger
}

// New creates a context provider. A nil ranking falls back to
// OverlapRanking; a nil trigger table disables cross-domain loading.
func New(reg *registry.Registry, triggers *TriggerTable, ranking RankingStrategy, logger *zap.Logger) *Provider {
	if ranking == nil {
		ranking = OverlapRanking{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		reg:      reg,
		triggers: triggers,
		ranking:  ranking,
		logger:   logger.With(zap.String("component", "context_provider")),
	}
}

// AlwaysLoadFiles returns the domain's mandatory artifacts: every
// non-index artifact with loadingStrategy always, in index order. These
// form the hard floor of any working set.
func (p *Provider) AlwaysLoadFiles(domain string) ([]Selection, error) {
	artifacts, err := p.reg.ResolveIndex(domain)
	if err != nil {
		return nil, err
	}

	var out []Selection
	for _, a := range artifacts {
		if a.IsIndex() {
			continue
		}
		if a.LoadingStrategy == registry.StrategyAlways {
			out = append(out, Selection{Artifact: a, Source: SourceAlways})
		}
	}
	return out, nil
}

// ConditionalContext scores the domain's onDemand artifacts against the
// detection signals and selects a deterministic top-K prefix bounded by
// the remaining budget: score descending, then declared order.
func (p *Provider) ConditionalContext(domain string, signals DetectionSignals, budgetRemaining int) ([]Selection, []Skipped, error) {
	artifacts, err := p.reg.ResolveIndex(domain)
	if err != nil {
		return nil, nil, err
	}

	type candidate struct {
		artifact *registry.ContextArtifact
		score    int
		order    int
	}

	var candidates []candidate
	var skipped []Skipped
	for i, a := range artifacts {
		if a.IsIndex() || a.LoadingStrategy != registry.StrategyOnDemand {
			continue
		}
		score := p.ranking.Score(a, signals)
		if score <= 0 {
			skipped = append(skipped, Skipped{ArtifactID: registry.Ref(domain, a.ID), Reason: ReasonNotRelevant})
			continue
		}
		candidates = append(candidates, candidate{artifact: a, score: score, order: i})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].order < candidates[j].order
	})

	var out []Selection
	for _, c := range candidates {
		if len(out) >= budgetRemaining {
			skipped = append(skipped, Skipped{ArtifactID: registry.Ref(domain, c.artifact.ID), Reason: ReasonBudgetExhausted})
			continue
		}
		out = append(out, Selection{Artifact: c.artifact, Score: c.score, Source: SourceConditional})
	}
	return out, skipped, nil
}

// CrossDomainContext evaluates the trigger table for the domain under a
// bounded admission budget. When more triggers fire than the budget
// allows, candidates contend by (tier ascending, score descending,
// declaration order): a higher-tier candidate evicts the weakest
// occupant, and every artifact displaced or rejected by that contention
// is recorded with reason "priority-preempted".
func (p *Provider) CrossDomainContext(domain string, signals DetectionSignals, budgetRemaining int) ([]Selection, []Skipped, []string) {
	rows := p.triggers.ForDomain(domain)
	if len(rows) == 0 {
		return nil, nil, nil
	}

	type candidate struct {
		sel   Selection
		tier  Tier
		order int
	}

	var skipped []Skipped
	var warnings []string
	var admitted []candidate

	// worse reports whether a loses a budget slot to b.
	worse := func(a, b candidate) bool {
		if a.tier != b.tier {
			return a.tier > b.tier
		}
		if a.sel.Score != b.sel.Score {
			return a.sel.Score < b.sel.Score
		}
		return a.order > b.order
	}

	for i, row := range rows {
		if !row.Fires(signals) {
			continue
		}

		secondaryDomain, id, _ := registry.SplitRef(row.SecondaryRef)
		artifact, err := p.reg.Get(secondaryDomain, id)
		if err != nil {
			skipped = append(skipped, Skipped{ArtifactID: row.SecondaryRef, Reason: ReasonMissingArtifact})
			warnings = append(warnings, fmt.Sprintf("cross-domain trigger %s references missing artifact", row.SecondaryRef))
			p.logger.Warn("cross-domain trigger target missing",
				zap.String("ref", row.SecondaryRef),
				zap.String("primary_domain", domain))
			continue
		}

		cand := candidate{
			sel:   Selection{Artifact: artifact, Score: p.ranking.Score(artifact, signals), Source: SourceCrossDomain},
			tier:  row.Tier,
			order: i,
		}

		if budgetRemaining <= 0 {
			skipped = append(skipped, Skipped{ArtifactID: row.SecondaryRef, Reason: ReasonBudgetExhausted})
			continue
		}
		if len(admitted) < budgetRemaining {
			admitted = append(admitted, cand)
			continue
		}

		// Budget full: contend with the weakest occupant.
		weakest := 0
		for j := 1; j < len(admitted); j++ {
			if worse(admitted[j], admitted[weakest]) {
				weakest = j
			}
		}
		if worse(cand, admitted[weakest]) {
			skipped = append(skipped, Skipped{ArtifactID: row.SecondaryRef, Reason: ReasonPriorityPreempted})
			continue
		}

		evicted := admitted[weakest]
		admitted[weakest] = cand
		skipped = append(skipped, Skipped{
			ArtifactID: registry.Ref(evicted.sel.Artifact.Domain, evicted.sel.Artifact.ID),
			Reason:     ReasonPriorityPreempted,
		})
		p.logger.Debug("cross-domain candidate preempted",
			zap.String("evicted", evicted.sel.Artifact.ID),
			zap.String("admitted", cand.sel.Artifact.ID),
			zap.String("tier", cand.tier.String()))
	}

	// Present admissions in (tier, score, declaration) order.
	sort.SliceStable(admitted, func(i, j int) bool {
		return worse(admitted[j], admitted[i])
	})

	out := make([]Selection, 0, len(admitted))
	for _, c := range admitted {
		out = append(out, c.sel)
	}
	return out, skipped, warnings
}

// Resolve composes the final working set for one invocation:
// always-load floor, then conditional context, then cross-domain
// context, sharing one file budget. extraAlways names additional
// mandatory artifacts from the executor profile, either bare IDs in the
// primary domain or "domain/id" references.
func (p *Provider) Resolve(domain string, extraAlways []string, fileBudget int, signals DetectionSignals) (*Resolution, error) {
	res := &Resolution{}

	floor, err := p.AlwaysLoadFiles(domain)
	if err != nil {
		return nil, err
	}

	selected := make(map[string]bool)
	admit := func(sel Selection) {
		ref := registry.Ref(sel.Artifact.Domain, sel.Artifact.ID)
		if selected[ref] {
			return
		}
		selected[ref] = true
		res.WorkingSet = append(res.WorkingSet, sel)
	}

	for _, sel := range floor {
		admit(sel)
	}
	for _, name := range extraAlways {
		refDomain, id, ok := registry.SplitRef(name)
		if !ok {
			refDomain, id = domain, name
		}
		artifact, err := p.reg.Get(refDomain, id)
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{ArtifactID: registry.Ref(refDomain, id), Reason: ReasonMissingArtifact})
			res.Warnings = append(res.Warnings, fmt.Sprintf("always-load artifact %s not found", name))
			continue
		}
		admit(Selection{Artifact: artifact, Source: SourceAlways})
	}

	// The floor is consumed first and never dropped, even over budget.
	budgetRemaining := fileBudget - len(res.WorkingSet)
	if budgetRemaining < 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"BudgetExceeded: %d always-load artifacts exceed file budget %d",
			len(res.WorkingSet), fileBudget))
		budgetRemaining = 0
	}

	conditional, condSkipped, err := p.ConditionalContext(domain, signals, budgetRemaining)
	if err != nil {
		return nil, err
	}
	for _, sel := range conditional {
		ref := registry.Ref(sel.Artifact.Domain, sel.Artifact.ID)
		if selected[ref] {
			res.Skipped = append(res.Skipped, Skipped{ArtifactID: ref, Reason: ReasonAlreadySelected})
			continue
		}
		admit(sel)
		budgetRemaining--
	}
	for _, sk := range condSkipped {
		if selected[sk.ArtifactID] {
			continue // admitted earlier as an always-load file
		}
		res.Skipped = append(res.Skipped, sk)
	}

	crossDomain, cdSkipped, cdWarnings := p.CrossDomainContext(domain, signals, budgetRemaining)
	for _, sel := range crossDomain {
		ref := registry.Ref(sel.Artifact.Domain, sel.Artifact.ID)
		if selected[ref] {
			res.Skipped = append(res.Skipped, Skipped{ArtifactID: ref, Reason: ReasonAlreadySelected})
			continue
		}
		admit(sel)
		budgetRemaining--
	}
	res.Skipped = append(res.Skipped, cdSkipped...)
	res.Warnings = append(res.Warnings, cdWarnings...)

	if budgetRemaining < 0 {
		budgetRemaining = 0
	}
	res.BudgetRemaining = budgetRemaining

	p.logger.Info("context resolved",
		zap.String("domain", domain),
		zap.Int("working_set", len(res.WorkingSet)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("budget_remaining", res.BudgetRemaining))

	return res, nil
}

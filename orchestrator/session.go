package orchestrator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/forgeworks/forgectx/internal/metrics"
	"github.com/forgeworks/forgectx/provider"
	"github.com/forgeworks/forgectx/registry"
)

// Session is the ephemeral per-invocation state. It is owned by one
// goroutine for its whole life; the manifest is the only part that
// survives the invocation.
type Session struct {
	ID       string
	Executor string
	Project  string
	State    State

	Signals    provider.DetectionSignals
	Memory     *MemorySnapshot
	Resolution *provider.Resolution
	Warnings   []string

	StartedAt time.Time

	collector *metrics.Collector
	logger    *zap.Logger
}

func newSession(executor, project string, collector *metrics.Collector, logger *zap.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		ID:        id,
		Executor:  executor,
		Project:   project,
		State:     StateInit,
		Memory:    emptySnapshot(),
		StartedAt: time.Now(),
		collector: collector,
		logger: logger.With(
			zap.String("session_id", id),
			zap.String("executor", executor),
			zap.String("project", project),
		),
	}
}

// transition moves the machine to the next state, enforcing the
// legal-transition table.
func (s *Session) transition(to State) error {
	if err := checkTransition(s.State, to); err != nil {
		return err
	}
	if s.collector != nil {
		s.collector.RecordStateTransition(string(s.State), string(to))
	}
	s.logger.Debug("session state change",
		zap.String("from", string(s.State)),
		zap.String("to", string(to)))
	s.State = to
	return nil
}

// degrade records a failure and re-enters next through ERROR with a
// partial result. The warning lands in the manifest.
func (s *Session) degrade(next State, warning string) error {
	if err := s.transition(StateError); err != nil {
		return err
	}
	s.Warnings = append(s.Warnings, warning)
	s.logger.Warn("session degraded", zap.String("next", string(next)), zap.String("warning", warning))
	return s.transition(next)
}

// warn records a non-fatal observation without a state change.
func (s *Session) warn(format string, args ...any) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// ManifestEntry is one working-set member in the session manifest.
type ManifestEntry struct {
	Ref             string `json:"ref"`
	Title           string `json:"title"`
	Source          string `json:"source"`
	Score           int    `json:"score,omitempty"`
	EstimatedTokens int    `json:"estimated_tokens"`
}

// Manifest is the audit trail of one invocation: what was loaded, what
// was skipped and why. It is the only externally visible output of a
// session.
type Manifest struct {
	SessionID       string             `json:"session_id"`
	Executor        string             `json:"executor"`
	Project         string             `json:"project"`
	State           State              `json:"state"`
	WorkingSet      []ManifestEntry    `json:"working_set"`
	Skipped         []provider.Skipped `json:"skipped"`
	Warnings        []string           `json:"warnings"`
	BudgetRemaining int                `json:"budget_remaining"`
	Duration        time.Duration      `json:"duration"`
}

// Manifest renders the session's externally visible record.
func (s *Session) Manifest() *Manifest {
	m := &Manifest{
		SessionID: s.ID,
		Executor:  s.Executor,
		Project:   s.Project,
		State:     s.State,
		Warnings:  s.Warnings,
		Duration:  time.Since(s.StartedAt),
	}
	if s.Resolution != nil {
		for _, sel := range s.Resolution.WorkingSet {
			m.WorkingSet = append(m.WorkingSet, ManifestEntry{
				Ref:             registry.Ref(sel.Artifact.Domain, sel.Artifact.ID),
				Title:           sel.Artifact.Title,
				Source:          string(sel.Source),
				Score:           sel.Score,
				EstimatedTokens: sel.Artifact.EstimatedTokens,
			})
		}
		m.Skipped = s.Resolution.Skipped
		m.BudgetRemaining = s.Resolution.BudgetRemaining
	}
	return m
}

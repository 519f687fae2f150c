package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/forgeworks/forgectx/internal/metrics"
	"github.com/forgeworks/forgectx/memory"
	"github.com/forgeworks/forgectx/provider"
)

const tracerName = "github.com/forgeworks/forgectx/orchestrator"

// Config tunes the orchestrator.
type Config struct {
	// StoreTimeout bounds every memory store wait. A load that exceeds
	// it degrades to an empty snapshot with a warning.
	StoreTimeout time.Duration `json:"store_timeout" yaml:"store_timeout"`
	// DefaultFileBudget applies when a profile declares no budget.
	DefaultFileBudget int `json:"default_file_budget" yaml:"default_file_budget"`
}

// DefaultConfig returns the standard orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		StoreTimeout:      5 * time.Second,
		DefaultFileBudget: 5,
	}
}

// Orchestrator drives the invocation state machine over an injected
// provider and store. Safe for concurrent invocations; each Run owns
// its session exclusively.
type Orchestrator struct {
	provider  *provider.Provider
	store     memory.Store
	collector *metrics.Collector
	tracer    trace.Tracer
	config    Config
	logger    *zap.Logger
}

// New creates an orchestrator. The collector may be nil to disable
// metrics.
func New(p *provider.Provider, store memory.Store, collector *metrics.Collector, config Config, logger *zap.Logger) (*Orchestrator, error) {
	if p == nil {
		return nil, fmt.Errorf("orchestrator requires a context provider")
	}
	if store == nil {
		return nil, fmt.Errorf("orchestrator requires a memory store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = DefaultConfig().StoreTimeout
	}
	return &Orchestrator{
		provider:  p,
		store:     store,
		collector: collector,
		tracer:    otel.Tracer(tracerName),
		config:    config,
		logger:    logger.With(zap.String("component", "orchestrator")),
	}, nil
}

// Run drives one invocation end to end and returns its manifest. The
// manifest is returned even on the hard failure path so the caller can
// see what had been resolved before the final write failed.
func (o *Orchestrator) Run(ctx context.Context, profile ExecutorProfile, project string, exec Executor, signals provider.DetectionSignals) (*Manifest, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, fmt.Errorf("orchestrator requires an executor")
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(
			attribute.String("executor", profile.Name),
			attribute.String("project", project),
			attribute.String("domain", profile.PrimaryDomain),
		))
	defer span.End()

	session := newSession(profile.Name, project, o.collector, o.logger)
	span.SetAttributes(attribute.String("session_id", session.ID))

	budget := profile.FileBudget
	if budget == 0 {
		budget = o.config.DefaultFileBudget
	}

	// Phase 1: memory load. Strictly precedes context resolution so
	// recalled signals can steer selection.
	if err := o.loadMemory(ctx, session, profile, project); err != nil {
		if derr := session.degrade(StateMemoryLoaded, fmt.Sprintf("memory load failed: %v", err)); derr != nil {
			return nil, derr
		}
		session.Memory = emptySnapshot()
	} else if err := session.transition(StateMemoryLoaded); err != nil {
		return nil, err
	}

	session.Signals = signals.Merge(session.Memory.Signals())
	if profile.DetectionRequired && session.Signals.Empty() {
		session.warn("detection required but no signals available; conditional context disabled")
	}

	// Phase 2: context resolution.
	if err := o.resolveContext(ctx, session, profile, budget); err != nil {
		if derr := session.degrade(StateContextResolved, fmt.Sprintf("context resolution failed: %v", err)); derr != nil {
			return nil, derr
		}
		session.Resolution = &provider.Resolution{}
	} else if err := session.transition(StateContextResolved); err != nil {
		return nil, err
	}

	// Phase 3: executor run.
	if err := session.transition(StateExecuting); err != nil {
		return nil, err
	}
	updates, err := o.execute(ctx, session, exec)
	if err != nil {
		if derr := session.degrade(StateMemoryUpdated, fmt.Sprintf("executor failed: %v", err)); derr != nil {
			return nil, derr
		}
		updates = nil
	} else if err := session.transition(StateMemoryUpdated); err != nil {
		return nil, err
	}

	// Phase 4: memory write-back. The only hard failure path.
	if err := o.applyUpdates(ctx, session, updates); err != nil {
		o.finish(session, "write-failed")
		return session.Manifest(), err
	}

	if err := session.transition(StateDone); err != nil {
		return nil, err
	}
	o.finish(session, "done")
	return session.Manifest(), nil
}

func (o *Orchestrator) finish(session *Session, status string) {
	if o.collector != nil {
		o.collector.RecordSession(session.Executor, status, time.Since(session.StartedAt))
	}
	o.logger.Info("session finished",
		zap.String("session_id", session.ID),
		zap.String("status", status),
		zap.String("state", string(session.State)),
		zap.Int("warnings", len(session.Warnings)))
}

// loadMemory reads every record the profile's memory scopes declare.
// Scopes load concurrently; a missing record is normal for first-time
// projects, any other read failure becomes a manifest warning. Only a
// canceled context fails the phase.
func (o *Orchestrator) loadMemory(ctx context.Context, session *Session, profile ExecutorProfile, project string) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.memory_load")
	defer span.End()

	snapshot := emptySnapshot()
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, scope := range profile.MemoryScopes {
		for _, fileType := range scope.FileTypes {
			key := memory.Key{Scope: scope.Scope, Project: project, FileType: fileType}
			if scope.Scope == memory.ScopeSkillSpecific {
				key.Executor = profile.Name
			}
			g.Go(func() error {
				readCtx, cancel := context.WithTimeout(gctx, o.config.StoreTimeout)
				defer cancel()

				start := time.Now()
				rec, err := o.store.Read(readCtx, key)
				o.recordMemoryOp("read", err, time.Since(start))
				if err != nil {
					if err == memory.ErrNotFound {
						return nil
					}
					mu.Lock()
					session.warn("memory read %s failed: %v", key.String(), err)
					mu.Unlock()
					return nil
				}
				mu.Lock()
				snapshot.put(rec)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	session.Memory = snapshot
	span.SetAttributes(attribute.Int("records", snapshot.Len()))
	return nil
}

func (o *Orchestrator) resolveContext(ctx context.Context, session *Session, profile ExecutorProfile, budget int) error {
	_, span := o.tracer.Start(ctx, "orchestrator.context_resolve",
		trace.WithAttributes(attribute.Int("file_budget", budget)))
	defer span.End()

	start := time.Now()
	res, err := o.provider.Resolve(profile.PrimaryDomain, profile.AlwaysLoadFiles, budget, session.Signals)
	if err != nil {
		return err
	}

	session.Resolution = res
	session.Warnings = append(session.Warnings, res.Warnings...)
	res.Warnings = nil

	if o.collector != nil {
		o.collector.RecordResolution(profile.PrimaryDomain, time.Since(start))
		for _, sel := range res.WorkingSet {
			o.collector.RecordSelection(profile.PrimaryDomain, string(sel.Source))
		}
		for _, sk := range res.Skipped {
			o.collector.RecordSkip(profile.PrimaryDomain, sk.Reason)
		}
	}
	span.SetAttributes(
		attribute.Int("working_set", len(res.WorkingSet)),
		attribute.Int("skipped", len(res.Skipped)),
	)
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, session *Session, exec Executor) ([]Update, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.execute")
	defer span.End()

	var workingSet []provider.Selection
	if session.Resolution != nil {
		workingSet = session.Resolution.WorkingSet
	}
	return exec.Execute(ctx, session.Memory, workingSet)
}

// applyUpdates writes the executor's learned knowledge back to the
// store. Each write gets one retry; a write that still fails is
// surfaced synchronously.
func (o *Orchestrator) applyUpdates(ctx context.Context, session *Session, updates []Update) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.memory_update",
		trace.WithAttributes(attribute.Int("updates", len(updates))))
	defer span.End()

	for _, update := range updates {
		if err := o.applyUpdate(ctx, update); err != nil {
			session.warn("final memory write %s failed: %v", update.Key.String(), err)
			return fmt.Errorf("apply memory update %s: %w", update.Key.String(), err)
		}
	}
	return nil
}

func (o *Orchestrator) applyUpdate(ctx context.Context, update Update) error {
	// A malformed key cannot succeed on retry; reject it before the
	// store is touched.
	if err := update.Key.Validate(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		writeCtx, cancel := context.WithTimeout(ctx, o.config.StoreTimeout)
		start := time.Now()
		var err error
		switch update.Op {
		case OpUpdate:
			err = o.store.Update(writeCtx, update.Key, update.Content)
		case OpAppend:
			err = o.store.Append(writeCtx, update.Key, update.Entry)
		default:
			cancel()
			return fmt.Errorf("unknown memory op %q", update.Op)
		}
		cancel()
		o.recordMemoryOp(string(update.Op), err, time.Since(start))
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, memory.ErrInvalidKey) {
			return err
		}
		if attempt == 0 {
			o.logger.Warn("memory write failed, retrying once",
				zap.String("key", update.Key.String()),
				zap.String("op", string(update.Op)),
				zap.Error(err))
		}
	}
	return lastErr
}

func (o *Orchestrator) recordMemoryOp(op string, err error, duration time.Duration) {
	if o.collector == nil {
		return
	}
	status := "ok"
	if err != nil && err != memory.ErrNotFound {
		status = "error"
	}
	o.collector.RecordMemoryOp(op, status, duration)
}

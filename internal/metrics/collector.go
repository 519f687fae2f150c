package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the subsystem's prometheus instruments.
type Collector struct {
	// Context resolution
	selectionsTotal    *prometheus.CounterVec
	skipsTotal         *prometheus.CounterVec
	budgetExceeded     *prometheus.CounterVec
	resolutionDuration *prometheus.HistogramVec

	// Memory store
	memoryOpsTotal   *prometheus.CounterVec
	memoryOpDuration *prometheus.HistogramVec
	compactionsTotal *prometheus.CounterVec

	// Lifecycle
	recordsByTier *prometheus.GaugeVec

	// Sessions
	sessionsTotal    *prometheus.CounterVec
	sessionDuration  *prometheus.HistogramVec
	stateTransitions *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the instrument set under namespace. A nil
// registerer uses the prometheus default registry.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.selectionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_selections_total",
			Help:      "Total number of artifacts admitted into working sets",
		},
		[]string{"domain", "source"},
	)

	c.skipsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_skips_total",
			Help:      "Total number of artifacts considered and skipped",
		},
		[]string{"domain", "reason"},
	)

	c.budgetExceeded = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_budget_exceeded_total",
			Help:      "Resolutions whose always-load floor exceeded the file budget",
		},
		[]string{"domain"},
	)

	c.resolutionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_resolution_duration_seconds",
			Help:      "Context resolution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"domain"},
	)

	c.memoryOpsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_operations_total",
			Help:      "Total number of memory store operations",
		},
		[]string{"op", "status"},
	)

	c.memoryOpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_operation_duration_seconds",
			Help:      "Memory store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	c.compactionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_compactions_total",
			Help:      "Total number of oversized-record compactions",
		},
		[]string{"file_type"},
	)

	c.recordsByTier = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_records_by_tier",
			Help:      "Shared memory records per freshness tier, from the last scan",
		},
		[]string{"project", "tier"},
	)

	c.sessionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of orchestrated sessions",
		},
		[]string{"executor", "status"},
	)

	c.sessionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "End-to-end session duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"executor"},
	)

	c.stateTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_state_transitions_total",
			Help:      "Total number of session state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordSelection counts one admitted artifact.
func (c *Collector) RecordSelection(domain, source string) {
	c.selectionsTotal.WithLabelValues(domain, source).Inc()
}

// RecordSkip counts one skipped artifact.
func (c *Collector) RecordSkip(domain, reason string) {
	c.skipsTotal.WithLabelValues(domain, reason).Inc()
}

// RecordBudgetExceeded counts a floor-over-budget resolution.
func (c *Collector) RecordBudgetExceeded(domain string) {
	c.budgetExceeded.WithLabelValues(domain).Inc()
}

// RecordResolution observes one resolution pass.
func (c *Collector) RecordResolution(domain string, duration time.Duration) {
	c.resolutionDuration.WithLabelValues(domain).Observe(duration.Seconds())
}

// RecordMemoryOp counts one store operation.
func (c *Collector) RecordMemoryOp(op, status string, duration time.Duration) {
	c.memoryOpsTotal.WithLabelValues(op, status).Inc()
	c.memoryOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordCompaction counts one record compaction.
func (c *Collector) RecordCompaction(fileType string) {
	c.compactionsTotal.WithLabelValues(fileType).Inc()
}

// RecordTierCount publishes one (project, tier) gauge from a scan.
func (c *Collector) RecordTierCount(project, tier string, count int) {
	c.recordsByTier.WithLabelValues(project, tier).Set(float64(count))
}

// RecordSession counts one completed session.
func (c *Collector) RecordSession(executor, status string, duration time.Duration) {
	c.sessionsTotal.WithLabelValues(executor, status).Inc()
	c.sessionDuration.WithLabelValues(executor).Observe(duration.Seconds())
}

// RecordStateTransition counts one state machine transition.
func (c *Collector) RecordStateTransition(from, to string) {
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

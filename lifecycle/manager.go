package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/forgeworks/forgectx/memory"
	"github.com/forgeworks/forgectx/registry"
)

// archiveSuffix marks the overflow record a compaction writes into.
// Archive records themselves are never compacted.
const archiveSuffix = "_archive"

// entryMarkerPrefix matches the delimiter the memory store renders
// before each appended entry.
const entryMarkerPrefix = "<!-- Entry: "

// ManagerConfig tunes compaction and scanning.
type ManagerConfig struct {
	Thresholds Thresholds        `json:"thresholds" yaml:"thresholds"`
	Limits     memory.SizeLimits `json:"limits" yaml:"limits"`
	// ScanRate bounds project scans per second; ScanBurst allows short
	// bursts above the sustained rate.
	ScanRate  rate.Limit `json:"scan_rate" yaml:"scan_rate"`
	ScanBurst int        `json:"scan_burst" yaml:"scan_burst"`
	// ScanInterval spaces the rounds of ScanLoop.
	ScanInterval time.Duration `json:"scan_interval" yaml:"scan_interval"`
}

// DefaultManagerConfig returns the standard lifecycle configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Thresholds:   DefaultThresholds(),
		Limits:       memory.DefaultSizeLimits(),
		ScanRate:     rate.Limit(2),
		ScanBurst:    4,
		ScanInterval: 24 * time.Hour,
	}
}

// Manager owns freshness classification and record compaction. It is
// the memory store's Archiver: when a write finds a record over its
// line limit, the manager moves the oldest entries into the record's
// archive companion and rewrites the record with the newest entries.
type Manager struct {
	store        memory.Store
	thresholds   Thresholds
	limits       memory.SizeLimits
	limiter      *rate.Limiter
	scanInterval time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// NewManager builds a Manager over the given store.
func NewManager(store memory.Store, config ManagerConfig, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("lifecycle manager requires a store")
	}
	if err := config.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ScanRate <= 0 {
		config.ScanRate = DefaultManagerConfig().ScanRate
	}
	if config.ScanBurst <= 0 {
		config.ScanBurst = 1
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = DefaultManagerConfig().ScanInterval
	}
	return &Manager{
		store:        store,
		thresholds:   config.Thresholds,
		limits:       config.Limits,
		limiter:      rate.NewLimiter(config.ScanRate, config.ScanBurst),
		scanInterval: config.ScanInterval,
		now:          time.Now,
		logger:       logger.With(zap.String("component", "lifecycle")),
	}, nil
}

// Thresholds returns the manager's age table.
func (m *Manager) Thresholds() Thresholds { return m.thresholds }

// Classify maps a last-updated timestamp to its tier at the manager's
// current clock.
func (m *Manager) Classify(updatedAt time.Time) Tier {
	return m.thresholds.Classify(updatedAt, m.now())
}

// Archive compacts the record at key: the newest entries that fit in
// half the line limit stay in place, the rest moves to the record's
// archive companion. Nothing is deleted. Archive records are exempt so
// compaction cannot recurse.
func (m *Manager) Archive(ctx context.Context, key memory.Key) error {
	if strings.HasSuffix(key.FileType, archiveSuffix) {
		return nil
	}

	rec, err := m.store.Read(ctx, key)
	if err != nil {
		if err == memory.ErrNotFound {
			return nil
		}
		return fmt.Errorf("read before compaction: %w", err)
	}

	limit := m.limits.LimitFor(key.FileType)
	if limit <= 0 || rec.SizeLines <= limit {
		return nil
	}

	kept, overflow := splitForCompaction(rec.Content, limit/2)
	if overflow == "" {
		return nil
	}

	archiveKey := key
	archiveKey.FileType = key.FileType + archiveSuffix
	entry := memory.Entry{
		Timestamp: m.now(),
		Text:      fmt.Sprintf("Compacted from %s:\n%s", key.FileType, strings.TrimRight(overflow, "\n")),
	}
	if err := m.store.Append(ctx, archiveKey, entry); err != nil {
		return fmt.Errorf("append to archive: %w", err)
	}
	if err := m.store.Update(ctx, key, kept); err != nil {
		return fmt.Errorf("rewrite compacted record: %w", err)
	}

	m.logger.Info("compacted oversized record",
		zap.String("key", key.String()),
		zap.Int("before_lines", rec.SizeLines),
		zap.Int("after_lines", memory.CountLines(kept)),
		zap.Int("limit", limit))
	return nil
}

// splitForCompaction partitions content into a kept tail of at most
// keepLines lines and the overflowing head. Entry boundaries are
// respected when markers are present so no entry is cut in half; the
// newest entry always survives even if it alone exceeds the budget.
func splitForCompaction(content string, keepLines int) (kept, overflow string) {
	if keepLines < 1 {
		keepLines = 1
	}
	segments := splitEntries(content)
	if len(segments) > 1 {
		total := 0
		cut := len(segments) - 1
		for i := len(segments) - 1; i >= 0; i-- {
			total += memory.CountLines(segments[i])
			if total > keepLines && i < len(segments)-1 {
				break
			}
			cut = i
		}
		return strings.Join(segments[cut:], ""), strings.Join(segments[:cut], "")
	}

	// No entry structure: keep the newest lines verbatim.
	lines := strings.SplitAfter(strings.TrimRight(content, "\n")+"\n", "\n")
	lines = lines[:len(lines)-1] // SplitAfter leaves a trailing empty element
	if len(lines) <= keepLines {
		return content, ""
	}
	cut := len(lines) - keepLines
	return strings.Join(lines[cut:], ""), strings.Join(lines[:cut], "")
}

// splitEntries breaks content at entry markers. The first segment is
// any preamble before the first marker; every other segment starts
// with its marker line.
func splitEntries(content string) []string {
	if content == "" {
		return nil
	}
	var segments []string
	var current strings.Builder
	for _, line := range strings.SplitAfter(content, "\n") {
		if strings.HasPrefix(line, entryMarkerPrefix) && current.Len() > 0 {
			segments = append(segments, current.String())
			current.Reset()
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		segments = append(segments, current.String())
	}
	return segments
}

// Finding is one scanned record with its derived lifecycle state.
type Finding struct {
	Key       memory.Key    `json:"key"`
	Tier      Tier          `json:"tier"`
	UpdatedAt time.Time     `json:"updated_at"`
	Age       time.Duration `json:"age"`
	SizeLines int           `json:"size_lines"`
	OverLimit bool          `json:"over_limit"`
}

// Report summarizes one project scan.
type Report struct {
	Project     string       `json:"project"`
	GeneratedAt time.Time    `json:"generated_at"`
	Findings    []Finding    `json:"findings"`
	Counts      map[Tier]int `json:"counts"`
}

// Scan classifies every shared record of a project. Scans are
// rate-limited; Wait respects ctx cancellation.
func (m *Manager) Scan(ctx context.Context, project string) (*Report, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	recs, err := m.store.List(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("list project records: %w", err)
	}

	now := m.now()
	report := &Report{
		Project:     project,
		GeneratedAt: now,
		Counts:      make(map[Tier]int),
	}
	for _, rec := range recs {
		tier := m.thresholds.Classify(rec.UpdatedAt, now)
		limit := m.limits.LimitFor(rec.Key.FileType)
		report.Findings = append(report.Findings, Finding{
			Key:       rec.Key,
			Tier:      tier,
			UpdatedAt: rec.UpdatedAt,
			Age:       now.Sub(rec.UpdatedAt),
			SizeLines: rec.SizeLines,
			OverLimit: limit > 0 && rec.SizeLines > limit,
		})
		report.Counts[tier]++
	}

	m.logger.Debug("lifecycle scan complete",
		zap.String("project", project),
		zap.Int("records", len(report.Findings)))
	return report, nil
}

// ScanLoop scans the given projects once per interval until ctx is
// cancelled. Each report is handed to onReport; scan failures are
// logged and the loop continues.
func (m *Manager) ScanLoop(ctx context.Context, projects []string, onReport func(*Report)) error {
	ticker := time.NewTicker(m.scanInterval)
	defer ticker.Stop()

	scanAll := func() {
		for _, project := range projects {
			report, err := m.Scan(ctx, project)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				m.logger.Warn("lifecycle scan failed",
					zap.String("project", project),
					zap.Error(err))
				continue
			}
			if onReport != nil {
				onReport(report)
			}
		}
	}

	scanAll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			scanAll()
		}
	}
}

// ArtifactFinding is one context artifact with its freshness tier,
// derived from the lastUpdated frontmatter field.
type ArtifactFinding struct {
	Ref       string        `json:"ref"`
	Tier      Tier          `json:"tier"`
	UpdatedAt time.Time     `json:"updated_at"`
	Age       time.Duration `json:"age"`
}

// ReportArtifacts classifies context artifacts the same way memory
// records are classified. Operator reporting only; context selection
// never consults tiers.
func (m *Manager) ReportArtifacts(artifacts []*registry.ContextArtifact) []ArtifactFinding {
	now := m.now()
	out := make([]ArtifactFinding, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, ArtifactFinding{
			Ref:       registry.Ref(a.Domain, a.ID),
			Tier:      m.thresholds.Classify(a.LastUpdated, now),
			UpdatedAt: a.LastUpdated,
			Age:       now.Sub(a.LastUpdated),
		})
	}
	return out
}

// ReportRecords classifies an already-loaded record set without
// touching the store or the rate limiter.
func (m *Manager) ReportRecords(recs []*memory.Record) *Report {
	now := m.now()
	report := &Report{GeneratedAt: now, Counts: make(map[Tier]int)}
	for _, rec := range recs {
		tier := m.thresholds.Classify(rec.UpdatedAt, now)
		report.Findings = append(report.Findings, Finding{
			Key:       rec.Key,
			Tier:      tier,
			UpdatedAt: rec.UpdatedAt,
			Age:       now.Sub(rec.UpdatedAt),
			SizeLines: rec.SizeLines,
		})
		report.Counts[tier]++
	}
	return report
}

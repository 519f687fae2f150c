package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forgeworks/forgectx/memory"
	"github.com/forgeworks/forgectx/registry"
)

func newTestManager(t *testing.T, store memory.Store, config ManagerConfig) *Manager {
	t.Helper()
	mgr, err := NewManager(store, config, zap.NewNop())
	require.NoError(t, err)
	return mgr
}

func TestNewManager_RejectsBadThresholds(t *testing.T) {
	store := memory.NewMemoryStore(memory.DefaultStoreConfig(), zap.NewNop())
	defer store.Close()

	config := DefaultManagerConfig()
	config.Thresholds = Thresholds{Fresh: 90 * day, Active: 30 * day, Stale: 180 * day}
	_, err := NewManager(store, config, zap.NewNop())
	assert.Error(t, err)

	_, err = NewManager(nil, DefaultManagerConfig(), zap.NewNop())
	assert.Error(t, err)
}

func TestManager_ArchiveCompactsOversizedRecord(t *testing.T) {
	ctx := context.Background()
	storeConfig := memory.DefaultStoreConfig()
	storeConfig.Limits = memory.SizeLimits{Default: 6}
	store := memory.NewMemoryStore(storeConfig, zap.NewNop())
	defer store.Close()

	config := DefaultManagerConfig()
	config.Limits = storeConfig.Limits
	mgr := newTestManager(t, store, config)
	store.SetArchiver(mgr)

	key := memory.Key{
		Scope:    memory.ScopeSkillSpecific,
		Executor: "code-reviewer",
		Project:  "acme-app",
		FileType: "review_history",
	}
	// Four two-line entries put the record past the six-line limit.
	for i := 0; i < 4; i++ {
		require.NoError(t, store.Append(ctx, key, memory.Entry{Text: fmt.Sprintf("review %d", i)}))
	}

	// The next write finds the record oversized and compacts it first.
	require.NoError(t, store.Append(ctx, key, memory.Entry{Text: "review 4"}))

	rec, err := store.Read(ctx, key)
	require.NoError(t, err)
	assert.Contains(t, rec.Content, "review 4", "new entry must land")
	assert.Contains(t, rec.Content, "review 3", "newest pre-compaction entry survives in place")
	assert.NotContains(t, rec.Content, "review 0", "oldest entry moves out")

	archiveKey := key
	archiveKey.FileType = "review_history_archive"
	archived, err := store.Read(ctx, archiveKey)
	require.NoError(t, err)
	assert.Contains(t, archived.Content, "review 0", "oldest entry preserved in archive")
	assert.Contains(t, archived.Content, "Compacted from review_history")
}

func TestManager_ArchiveSkipsArchiveRecords(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore(memory.DefaultStoreConfig(), zap.NewNop())
	defer store.Close()
	mgr := newTestManager(t, store, DefaultManagerConfig())

	key := memory.Key{
		Scope:    memory.ScopeSkillSpecific,
		Executor: "code-reviewer",
		Project:  "acme-app",
		FileType: "review_history_archive",
	}
	require.NoError(t, store.Update(ctx, key, strings.Repeat("line\n", 1000)))

	require.NoError(t, mgr.Archive(ctx, key))
	rec, err := store.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1000, rec.SizeLines, "archive records are never compacted")
}

func TestManager_ArchiveMissingRecordIsNoOp(t *testing.T) {
	store := memory.NewMemoryStore(memory.DefaultStoreConfig(), zap.NewNop())
	defer store.Close()
	mgr := newTestManager(t, store, DefaultManagerConfig())

	key := memory.Key{
		Scope:    memory.ScopeSkillSpecific,
		Executor: "code-reviewer",
		Project:  "nope",
		FileType: "overview",
	}
	assert.NoError(t, mgr.Archive(context.Background(), key))
}

func TestSplitForCompaction(t *testing.T) {
	t.Run("respects entry boundaries", func(t *testing.T) {
		content := "<!-- Entry: 2026-01-01T00:00:00Z -->\nold\n" +
			"<!-- Entry: 2026-02-01T00:00:00Z -->\nmiddle\n" +
			"<!-- Entry: 2026-03-01T00:00:00Z -->\nnew\n"

		kept, overflow := splitForCompaction(content, 4)
		assert.Contains(t, kept, "new")
		assert.Contains(t, kept, "middle")
		assert.NotContains(t, kept, "old\n")
		assert.Contains(t, overflow, "old")
		assert.True(t, strings.HasPrefix(kept, "<!-- Entry: "), "kept tail starts on an entry boundary")
	})

	t.Run("newest entry survives even over budget", func(t *testing.T) {
		content := "<!-- Entry: 2026-01-01T00:00:00Z -->\nold\n" +
			"<!-- Entry: 2026-02-01T00:00:00Z -->\na\nb\nc\nd\ne\n"

		kept, overflow := splitForCompaction(content, 2)
		assert.Contains(t, kept, "e")
		assert.Contains(t, overflow, "old")
	})

	t.Run("plain content keeps the newest lines", func(t *testing.T) {
		kept, overflow := splitForCompaction("a\nb\nc\nd\n", 2)
		assert.Equal(t, "c\nd\n", kept)
		assert.Equal(t, "a\nb\n", overflow)
	})

	t.Run("content within budget is untouched", func(t *testing.T) {
		kept, overflow := splitForCompaction("a\nb\n", 5)
		assert.Equal(t, "a\nb\n", kept)
		assert.Empty(t, overflow)
	})
}

func TestManager_Scan(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore(memory.DefaultStoreConfig(), zap.NewNop())
	defer store.Close()

	mgr := newTestManager(t, store, DefaultManagerConfig())
	now := time.Now()

	shared := func(fileType string) memory.Key {
		return memory.Key{Scope: memory.ScopeSharedProject, Project: "acme-app", FileType: fileType}
	}
	require.NoError(t, store.Update(ctx, shared("stack"), "fastapi"))
	require.NoError(t, store.Update(ctx, shared("decisions"), "alembic"))

	// Age one record past the archived boundary by overriding the clock.
	mgr.now = func() time.Time { return now.Add(200 * day) }

	report, err := mgr.Scan(ctx, "acme-app")
	require.NoError(t, err)
	assert.Equal(t, "acme-app", report.Project)
	assert.Len(t, report.Findings, 2)
	assert.Equal(t, 2, report.Counts[TierArchived], "records 200 days old classify archived")

	mgr.now = time.Now
	report, err = mgr.Scan(ctx, "acme-app")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Counts[TierFresh])
	for _, finding := range report.Findings {
		assert.False(t, finding.OverLimit)
	}
}

func TestManager_ScanLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewMemoryStore(memory.DefaultStoreConfig(), zap.NewNop())
	defer store.Close()

	config := DefaultManagerConfig()
	config.ScanInterval = 5 * time.Millisecond
	mgr := newTestManager(t, store, config)

	shared := memory.Key{Scope: memory.ScopeSharedProject, Project: "acme-app", FileType: "stack"}
	require.NoError(t, store.Update(ctx, shared, "fastapi"))

	reports := make(chan *Report, 8)
	done := make(chan error, 1)
	go func() {
		done <- mgr.ScanLoop(ctx, []string{"acme-app"}, func(r *Report) {
			select {
			case reports <- r:
			default:
			}
		})
	}()

	// The first round runs immediately, the second after the interval.
	for i := 0; i < 2; i++ {
		select {
		case r := <-reports:
			assert.Equal(t, "acme-app", r.Project)
			assert.Equal(t, 1, r.Counts[TierFresh])
		case <-time.After(2 * time.Second):
			t.Fatal("scan loop produced no report")
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scan loop did not stop on cancellation")
	}
}

func TestManager_ReportRecords(t *testing.T) {
	store := memory.NewMemoryStore(memory.DefaultStoreConfig(), zap.NewNop())
	defer store.Close()
	mgr := newTestManager(t, store, DefaultManagerConfig())

	now := time.Now()
	recs := []*memory.Record{
		{Key: memory.Key{Scope: memory.ScopeSharedProject, Project: "p", FileType: "a"}, UpdatedAt: now.Add(-10 * day)},
		{Key: memory.Key{Scope: memory.ScopeSharedProject, Project: "p", FileType: "b"}, UpdatedAt: now.Add(-100 * day)},
	}
	report := mgr.ReportRecords(recs)
	assert.Equal(t, 1, report.Counts[TierFresh])
	assert.Equal(t, 1, report.Counts[TierStale])
}

func TestManager_ReportArtifacts(t *testing.T) {
	store := memory.NewMemoryStore(memory.DefaultStoreConfig(), zap.NewNop())
	defer store.Close()
	mgr := newTestManager(t, store, DefaultManagerConfig())

	now := time.Now()
	artifacts := []*registry.ContextArtifact{
		{ID: "index", Domain: "python", LastUpdated: now.Add(-5 * day)},
		{ID: "fastapi_patterns", Domain: "python", LastUpdated: now.Add(-250 * day)},
	}

	findings := mgr.ReportArtifacts(artifacts)
	require.Len(t, findings, 2)
	assert.Equal(t, "python/index", findings[0].Ref)
	assert.Equal(t, TierFresh, findings[0].Tier)
	assert.Equal(t, "python/fastapi_patterns", findings[1].Ref)
	assert.Equal(t, TierArchived, findings[1].Tier)
}

package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Common errors
var (
	ErrNotFound    = errors.New("memory record not found")
	ErrInvalidKey  = errors.New("invalid memory key")
	ErrStoreClosed = errors.New("memory store is closed")
)

// Scope partitions the memory key space.
type Scope string

const (
	// ScopeSkillSpecific isolates records per (executor, project).
	ScopeSkillSpecific Scope = "skill-specific"
	// ScopeSharedProject shares records across executors on one project.
	ScopeSharedProject Scope = "shared-project"
)

// Key uniquely addresses one memory record. Executor is required for
// the skill-specific scope and must be empty for shared-project.
type Key struct {
	Scope    Scope  `json:"scope"`
	Executor string `json:"executor,omitempty"`
	Project  string `json:"project"`
	FileType string `json:"file_type"`
}

// Validate checks the addressing invariants.
func (k Key) Validate() error {
	if k.Project == "" {
		return fmt.Errorf("%w: missing project", ErrInvalidKey)
	}
	if k.FileType == "" {
		return fmt.Errorf("%w: missing fileType", ErrInvalidKey)
	}
	switch k.Scope {
	case ScopeSkillSpecific:
		if k.Executor == "" {
			return fmt.Errorf("%w: skill-specific key requires an executor", ErrInvalidKey)
		}
	case ScopeSharedProject:
		if k.Executor != "" {
			return fmt.Errorf("%w: shared-project key must not name an executor", ErrInvalidKey)
		}
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidKey, k.Scope)
	}
	for _, part := range []string{k.Executor, k.Project, k.FileType} {
		if strings.ContainsAny(part, "/:\\") {
			return fmt.Errorf("%w: %q contains a path separator", ErrInvalidKey, part)
		}
	}
	return nil
}

// String renders the canonical key form used for locks and backends.
func (k Key) String() string {
	return strings.Join([]string{string(k.Scope), k.Executor, k.Project, k.FileType}, ":")
}

// Record is one stored memory document.
type Record struct {
	Key       Key       `json:"key"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	SizeLines int       `json:"size_lines"`
}

// Entry is one timestamped unit appended to a history document.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// entryMarker is the rendered delimiter preceding each appended entry.
const entryMarker = "<!-- Entry: %s -->"

// Render returns the entry's on-disk form: marker line plus text.
func (e Entry) Render() string {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf(entryMarker, ts.UTC().Format(time.RFC3339)) + "\n" + strings.TrimRight(e.Text, "\n") + "\n"
}

// CountLines is the store's size metric: newline-delimited line count.
// A trailing newline does not open a new line.
func CountLines(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}

// Store is the memory persistence interface.
type Store interface {
	// Read returns the record at key, or ErrNotFound. A missing record
	// is expected for first-time projects, not an error state to act on.
	Read(ctx context.Context, key Key) (*Record, error)

	// Update replaces the record content wholesale. Reads in the same
	// session observe the write immediately; concurrent updates resolve
	// last-writer-wins.
	Update(ctx context.Context, key Key, content string) error

	// Append adds an entry to the record, creating it when absent.
	// Appends to one key are strictly serialized; readers always observe
	// entries in append order.
	Append(ctx context.Context, key Key, entry Entry) error

	// List returns every shared-project record for the project.
	List(ctx context.Context, project string) ([]*Record, error)

	// SetArchiver installs the compaction hook consulted before writes
	// to oversized records. May be nil to disable size governance.
	SetArchiver(a Archiver)

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}

// Archiver compacts an oversized record before a write is accepted.
// The lifecycle manager implements this; the store only triggers it.
// Archive is invoked outside the store's per-key lock and may call back
// into the store; its own writes to the key under compaction do not
// re-trigger compaction.
type Archiver interface {
	Archive(ctx context.Context, key Key) error
}

// sortRecords orders listing results by canonical key for stable output.
func sortRecords(recs []*Record) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Key.String() < recs[j].Key.String()
	})
}

// compactionCtxKey marks a context as running inside Archive for one
// key, so the archiver's own write-back does not re-trigger compaction.
type compactionCtxKey struct{}

// compactIfOversized triggers the archiver when the record at key
// already exceeds its line limit. Runs before the caller takes the
// per-key lock; archive failures are logged and never block the write.
func compactIfOversized(ctx context.Context, a Archiver, limits SizeLimits, key Key, current *Record, logger *zap.Logger) {
	if a == nil || current == nil {
		return
	}
	limit := limits.LimitFor(key.FileType)
	if limit <= 0 || current.SizeLines <= limit {
		return
	}
	if inFlight, _ := ctx.Value(compactionCtxKey{}).(string); inFlight == key.String() {
		return
	}
	ctx = context.WithValue(ctx, compactionCtxKey{}, key.String())
	if err := a.Archive(ctx, key); err != nil {
		logger.Warn("archive before write failed",
			zap.String("key", key.String()),
			zap.Int("size_lines", current.SizeLines),
			zap.Int("limit", limit),
			zap.Error(err))
	}
}

// SizeLimits bounds record growth per fileType, in lines.
type SizeLimits struct {
	// PerFileType overrides the default for specific fileTypes.
	PerFileType map[string]int `json:"per_file_type" yaml:"per_file_type"`
	// Default applies to any fileType without an override.
	Default int `json:"default" yaml:"default"`
}

// DefaultSizeLimits returns the standard limit table:
// project_overview 200, review_history 300, everything else 500.
func DefaultSizeLimits() SizeLimits {
	return SizeLimits{
		PerFileType: map[string]int{
			"project_overview": 200,
			"review_history":   300,
		},
		Default: 500,
	}
}

// LimitFor returns the line limit for a fileType; zero disables limits.
func (l SizeLimits) LimitFor(fileType string) int {
	if n, ok := l.PerFileType[fileType]; ok {
		return n
	}
	return l.Default
}

// StoreType selects the storage backend.
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeFile     StoreType = "file"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeDatabase StoreType = "database"
)

// RedisConfig contains Redis-specific configuration.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// DatabaseConfig contains gorm backend configuration.
type DatabaseConfig struct {
	// Driver is sqlite, postgres or mysql.
	Driver string `json:"driver" yaml:"driver"`
	// DSN is the driver-specific connection string; for sqlite it is the
	// database file path.
	DSN string `json:"dsn" yaml:"dsn"`
}

// StoreConfig is the configuration shared by all backends.
type StoreConfig struct {
	Type     StoreType      `json:"type" yaml:"type"`
	BaseDir  string         `json:"base_dir" yaml:"base_dir"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Limits   SizeLimits     `json:"limits" yaml:"limits"`
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    StoreTypeMemory,
		BaseDir: "./data/memory",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "forgectx:",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "./data/memory.db",
		},
		Limits: DefaultSizeLimits(),
	}
}

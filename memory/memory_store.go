package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryStore is an in-memory implementation of Store. Suitable for
// development and testing. Data is lost on restart.
//
// Each key owns its own mutex so operations on distinct keys never
// contend; the registry map itself is guarded only long enough to hand
// out the per-key lock.
type MemoryStore struct {
	records  map[string]*Record
	locks    map[string]*sync.Mutex
	mu       sync.RWMutex
	closed   bool
	limits   SizeLimits
	archiver Archiver
	logger   *zap.Logger
}

// NewMemoryStore creates a new in-memory memory store.
func NewMemoryStore(config StoreConfig, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		records: make(map[string]*Record),
		locks:   make(map[string]*sync.Mutex),
		limits:  config.Limits,
		logger:  logger.With(zap.String("component", "memory_store")),
	}
}

// SetArchiver installs the size-governance hook.
func (s *MemoryStore) SetArchiver(a Archiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archiver = a
}

// keyLock returns the mutex owning the given key, creating it on first use.
func (s *MemoryStore) keyLock(key Key) (*sync.Mutex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	k := key.String()
	lock, ok := s.locks[k]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[k] = lock
	}
	return lock, nil
}

func (s *MemoryStore) getRecord(key Key) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key.String()]
	return rec, ok
}

func (s *MemoryStore) putRecord(key Key, rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key.String()] = rec
}

// Read returns a copy of the record at key.
func (s *MemoryStore) Read(ctx context.Context, key Key) (*Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.records[key.String()]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Update replaces the record content wholesale (last-writer-wins).
func (s *MemoryStore) Update(ctx context.Context, key Key, content string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if current, ok := s.getRecord(key); ok {
		compactIfOversized(ctx, s.archiver, s.limits, key, current, s.logger)
	}

	lock, err := s.keyLock(key)
	if err != nil {
		return err
	}
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	rec, ok := s.getRecord(key)
	if !ok {
		rec = &Record{Key: key, CreatedAt: now}
	}
	updated := *rec
	updated.Content = content
	updated.UpdatedAt = now
	updated.SizeLines = CountLines(content)
	s.putRecord(key, &updated)
	return nil
}

// Append adds an entry to the record, creating it when absent. Appends
// to one key are strictly serialized by the key's mutex.
func (s *MemoryStore) Append(ctx context.Context, key Key, entry Entry) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if current, ok := s.getRecord(key); ok {
		compactIfOversized(ctx, s.archiver, s.limits, key, current, s.logger)
	}

	lock, err := s.keyLock(key)
	if err != nil {
		return err
	}
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	rec, ok := s.getRecord(key)
	if !ok {
		rec = &Record{Key: key, CreatedAt: now}
	}
	updated := *rec
	updated.Content = appendEntry(updated.Content, entry)
	updated.UpdatedAt = now
	updated.SizeLines = CountLines(updated.Content)
	s.putRecord(key, &updated)
	return nil
}

// List returns all shared-project records for the project.
func (s *MemoryStore) List(ctx context.Context, project string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var out []*Record
	for _, rec := range s.records {
		if rec.Key.Scope == ScopeSharedProject && rec.Key.Project == project {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sortRecords(out)
	return out, nil
}

// Ping checks if the store is healthy.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// appendEntry renders the entry after the existing content.
func appendEntry(content string, entry Entry) string {
	rendered := entry.Render()
	if content == "" {
		return rendered
	}
	return strings.TrimRight(content, "\n") + "\n" + rendered
}

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileStore is a file-based implementation of Store. Suitable for
// single-node production deployments. Each record lives in its own JSON
// file under <baseDir>/<scope>/<executor>/<project>/<fileType>.json so
// distinct keys never share a file, and writes are atomic
// (temp file + rename).
type FileStore struct {
	baseDir  string
	locks    map[string]*sync.Mutex
	mu       sync.Mutex
	closed   bool
	limits   SizeLimits
	archiver Archiver
	logger   *zap.Logger
}

// NewFileStore creates a file-backed memory store rooted at config.BaseDir.
func NewFileStore(config StoreConfig, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("create memory store directory: %w", err)
	}
	return &FileStore{
		baseDir: config.BaseDir,
		locks:   make(map[string]*sync.Mutex),
		limits:  config.Limits,
		logger:  logger.With(zap.String("component", "memory_file_store")),
	}, nil
}

// SetArchiver installs the size-governance hook.
func (s *FileStore) SetArchiver(a Archiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archiver = a
}

// recordPath maps a key to its file. Shared-project records use "_" as
// the executor path segment.
func (s *FileStore) recordPath(key Key) string {
	executor := key.Executor
	if executor == "" {
		executor = "_"
	}
	return filepath.Join(s.baseDir, string(key.Scope), executor, key.Project, key.FileType+".json")
}

func (s *FileStore) keyLock(key Key) (*sync.Mutex, error) {
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

func (s *FileStore) readRecord(key Key) (*Record, error) {
	data, err := os.ReadFile(s.recordPath(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read memory record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse memory record %s: %w", key.String(), err)
	}
	return &rec, nil
}

func (s *FileStore) writeRecord(rec *Record) error {
	path := s.recordPath(rec.Key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create record directory: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory record: %w", err)
	}

	// Atomic write: write to temp file then rename.
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write memory record: %w", err)
	}
	return os.Rename(tempPath, path)
}

// Read returns the record at key.
func (s *FileStore) Read(ctx context.Context, key Key) (*Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	lock, err := s.keyLock(key)
	if err != nil {
		return nil, err
	}
	lock.Lock()
	defer lock.Unlock()
	return s.readRecord(key)
}

// Update replaces the record content wholesale (last-writer-wins).
func (s *FileStore) Update(ctx context.Context, key Key, content string) error {
	return s.write(ctx, key, func(rec *Record) {
		rec.Content = content
	})
}

// Append adds an entry to the record, creating it when absent.
func (s *FileStore) Append(ctx context.Context, key Key, entry Entry) error {
	return s.write(ctx, key, func(rec *Record) {
		rec.Content = appendEntry(rec.Content, entry)
	})
}

func (s *FileStore) write(ctx context.Context, key Key, mutate func(*Record)) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if current, err := s.Read(ctx, key); err == nil {
		compactIfOversized(ctx, s.archiver, s.limits, key, current, s.logger)
	}

	lock, err := s.keyLock(key)
	if err != nil {
		return err
	}
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	rec, err := s.readRecord(key)
	if err == ErrNotFound {
		rec = &Record{Key: key, CreatedAt: now}
	} else if err != nil {
		return err
	}

	mutate(rec)
	rec.UpdatedAt = now
	rec.SizeLines = CountLines(rec.Content)
	return s.writeRecord(rec)
}

// List returns all shared-project records for the project.
func (s *FileStore) List(ctx context.Context, project string) ([]*Record, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	s.mu.Unlock()

	dir := filepath.Join(s.baseDir, string(ScopeSharedProject), "_", project)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list memory records: %w", err)
	}

	var out []*Record
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		fileType := entry.Name()[:len(entry.Name())-len(".json")]
		key := Key{Scope: ScopeSharedProject, Project: project, FileType: fileType}
		rec, err := s.readRecord(key)
		if err != nil {
			s.logger.Warn("skipping unreadable memory record",
				zap.String("key", key.String()), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

// Ping checks if the store directory is accessible.
func (s *FileStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(s.baseDir)
	return err
}

// Close closes the store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

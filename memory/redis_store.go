package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore is a Redis-backed implementation of Store for deployments
// where several single-writer processes share one durable cache.
// Records are stored as JSON strings under
// <prefix>memory:<scope>:<executor>:<project>:<fileType>. Append
// serialization is enforced per key by an in-process mutex; the
// addressing contract (single logical writer per key) covers the
// cross-process case.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	locks    map[string]*sync.Mutex
	mu       sync.Mutex
	closed   bool
	limits   SizeLimits
	archiver Archiver
	logger   *zap.Logger
}

// NewRedisStore creates a Redis-backed memory store and verifies the
// connection.
func NewRedisStore(config StoreConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: config.Redis.KeyPrefix,
		locks:  make(map[string]*sync.Mutex),
		limits: config.Limits,
		logger: logger.With(zap.String("component", "memory_redis_store")),
	}, nil
}

// SetArchiver installs the size-governance hook.
func (s *RedisStore) SetArchiver(a Archiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archiver = a
}

func (s *RedisStore) redisKey(key Key) string {
	return s.prefix + "memory:" + key.String()
}

func (s *RedisStore) keyLock(key Key) (*sync.Mutex, error) {
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

func (s *RedisStore) readRecord(ctx context.Context, key Key) (*Record, error) {
	data, err := s.client.Get(ctx, s.redisKey(key)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("parse memory record %s: %w", key.String(), err)
	}
	return &rec, nil
}

func (s *RedisStore) writeRecord(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal memory record: %w", err)
	}
	if err := s.client.Set(ctx, s.redisKey(rec.Key), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Read returns the record at key.
func (s *RedisStore) Read(ctx context.Context, key Key) (*Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	s.mu.Unlock()
	return s.readRecord(ctx, key)
}

// Update replaces the record content wholesale (last-writer-wins).
func (s *RedisStore) Update(ctx context.Context, key Key, content string) error {
	return s.write(ctx, key, func(rec *Record) {
		rec.Content = content
	})
}

// Append adds an entry to the record, creating it when absent.
func (s *RedisStore) Append(ctx context.Context, key Key, entry Entry) error {
	return s.write(ctx, key, func(rec *Record) {
		rec.Content = appendEntry(rec.Content, entry)
	})
}

func (s *RedisStore) write(ctx context.Context, key Key, mutate func(*Record)) error {
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
	rec, err := s.readRecord(ctx, key)
	if err == ErrNotFound {
		rec = &Record{Key: key, CreatedAt: now}
	} else if err != nil {
		return err
	}

	mutate(rec)
	rec.UpdatedAt = now
	rec.SizeLines = CountLines(rec.Content)
	return s.writeRecord(ctx, rec)
}

// List returns all shared-project records for the project by scanning
// the shared-project key space.
func (s *RedisStore) List(ctx context.Context, project string) ([]*Record, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	s.mu.Unlock()

	pattern := s.prefix + "memory:" + string(ScopeSharedProject) + "::" + project + ":*"
	var out []*Record
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			s.logger.Warn("skipping unreadable memory record",
				zap.String("redis_key", iter.Val()), zap.Error(err))
			continue
		}
		out = append(out, &rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	sortRecords(out)
	return out, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.mu.Unlock()
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

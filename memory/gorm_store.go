package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// recordModel is the gorm row for one memory record. The composite
// unique index enforces one row per addressing key.
type recordModel struct {
	ID        uint   `gorm:"primaryKey"`
	Scope     string `gorm:"size:32;uniqueIndex:idx_memory_key"`
	Executor  string `gorm:"size:128;uniqueIndex:idx_memory_key"`
	Project   string `gorm:"size:128;uniqueIndex:idx_memory_key"`
	FileType  string `gorm:"size:128;uniqueIndex:idx_memory_key"`
	Content   string `gorm:"type:text"`
	SizeLines int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (recordModel) TableName() string { return "memory_records" }

func (m *recordModel) toRecord() *Record {
	return &Record{
		Key: Key{
			Scope:    Scope(m.Scope),
			Executor: m.Executor,
			Project:  m.Project,
			FileType: m.FileType,
		},
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		SizeLines: m.SizeLines,
	}
}

// GormStore is a SQL-backed implementation of Store using gorm.
// sqlite is the default for embedded use; postgres and mysql DSNs serve
// server deployments.
type GormStore struct {
	db       *gorm.DB
	locks    map[string]*sync.Mutex
	mu       sync.Mutex
	closed   bool
	limits   SizeLimits
	archiver Archiver
	logger   *zap.Logger
}

// NewGormStore opens the configured database and migrates the
// memory_records table.
func NewGormStore(config StoreConfig, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch config.Database.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(config.Database.DSN)
	case "postgres":
		dialector = postgres.Open(config.Database.DSN)
	case "mysql":
		dialector = mysql.Open(config.Database.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", config.Database.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}
	if err := db.AutoMigrate(&recordModel{}); err != nil {
		return nil, fmt.Errorf("migrate memory_records: %w", err)
	}

	return &GormStore{
		db:     db,
		locks:  make(map[string]*sync.Mutex),
		limits: config.Limits,
		logger: logger.With(zap.String("component", "memory_gorm_store")),
	}, nil
}

// SetArchiver installs the size-governance hook.
func (s *GormStore) SetArchiver(a Archiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archiver = a
}

func (s *GormStore) keyLock(key Key) (*sync.Mutex, error) {
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

func keyQuery(db *gorm.DB, key Key) *gorm.DB {
	return db.Where("scope = ? AND executor = ? AND project = ? AND file_type = ?",
		string(key.Scope), key.Executor, key.Project, key.FileType)
}

// Read returns the record at key.
func (s *GormStore) Read(ctx context.Context, key Key) (*Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	s.mu.Unlock()

	var row recordModel
	err := keyQuery(s.db.WithContext(ctx), key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read memory record: %w", err)
	}
	return row.toRecord(), nil
}

// Update replaces the record content wholesale (last-writer-wins).
func (s *GormStore) Update(ctx context.Context, key Key, content string) error {
	return s.write(ctx, key, func(rec *Record) {
		rec.Content = content
	})
}

// Append adds an entry to the record, creating it when absent.
func (s *GormStore) Append(ctx context.Context, key Key, entry Entry) error {
	return s.write(ctx, key, func(rec *Record) {
		rec.Content = appendEntry(rec.Content, entry)
	})
}

func (s *GormStore) write(ctx context.Context, key Key, mutate func(*Record)) error {
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

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row recordModel
		err := keyQuery(tx, key).First(&row).Error
		created := false
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = recordModel{
				Scope:    string(key.Scope),
				Executor: key.Executor,
				Project:  key.Project,
				FileType: key.FileType,
			}
			created = true
		} else if err != nil {
			return fmt.Errorf("read memory record: %w", err)
		}

		rec := row.toRecord()
		mutate(rec)
		row.Content = rec.Content
		row.SizeLines = CountLines(rec.Content)

		if created {
			return tx.Create(&row).Error
		}
		return tx.Save(&row).Error
	})
}

// List returns all shared-project records for the project.
func (s *GormStore) List(ctx context.Context, project string) ([]*Record, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	s.mu.Unlock()

	var rows []recordModel
	err := s.db.WithContext(ctx).
		Where("scope = ? AND project = ?", string(ScopeSharedProject), project).
		Order("file_type").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list memory records: %w", err)
	}

	out := make([]*Record, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toRecord())
	}
	return out, nil
}

// Ping checks the database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.mu.Unlock()

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (s *GormStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

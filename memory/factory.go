package memory

import (
	"fmt"

	"go.uber.org/zap"
)

// NewStore creates a Store for the configured backend.
func NewStore(config StoreConfig, logger *zap.Logger) (Store, error) {
	switch config.Type {
	case StoreTypeMemory:
		return NewMemoryStore(config, logger), nil
	case StoreTypeFile:
		return NewFileStore(config, logger)
	case StoreTypeRedis:
		return NewRedisStore(config, logger)
	case StoreTypeDatabase:
		return NewGormStore(config, logger)
	default:
		return nil, fmt.Errorf("unsupported memory store type: %s", config.Type)
	}
}

// MustNewStore creates a Store or panics on error.
//
// WARNING: use only during application initialization (main or init).
// For runtime store creation, use NewStore instead.
func MustNewStore(config StoreConfig, logger *zap.Logger) Store {
	store, err := NewStore(config, logger)
	if err != nil {
		panic(fmt.Sprintf("failed to create memory store: %v", err))
	}
	return store
}

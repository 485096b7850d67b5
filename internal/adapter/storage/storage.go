package storage

import (
	"fmt"
	"io"

	"agentroute/internal/domain"
	"agentroute/internal/infra/config"
)

// Store is a WorkflowStore that owns resources released by Close.
type Store interface {
	domain.WorkflowStore
	io.Closer
}

// Open builds the store selected by cfg.Backend.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "file":
		return NewFileStore(cfg.Dir)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("storage backend %q: %w", cfg.Backend, domain.ErrInvalidInput)
	}
}

// Package sqlite provides the public API for the SQLite mimi store.
// This package exposes the factory functions for creating backends while
// keeping implementation details internal.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mesh-intelligence/mimi/internal/memory"
	"github.com/mesh-intelligence/mimi/internal/sqlite"
	"github.com/mesh-intelligence/mimi/pkg/types"
)

// Backend is a types.Store persisted to a data directory that can also
// follow rewrites of its file by other processes.
type Backend interface {
	types.Store

	// StartWatch follows external rewrites of the backing file until ctx
	// is done. The returned function waits for the watcher to stop.
	StartWatch(ctx context.Context, log *slog.Logger) (wait func() error, err error)

	// DataDir returns the directory the backend persists to.
	DataDir() string
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
//
// Example:
//
//	backend := sqlite.NewBackend()
//	err := backend.Attach(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".mimi-db",
//	})
//	defer backend.Detach()
func NewBackend() Backend {
	return sqlite.NewBackend()
}

// Open creates the store named by config.Backend and attaches it.
func Open(config types.Config) (types.Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var store types.Store
	switch config.Backend {
	case types.BackendSQLite:
		store = sqlite.NewBackend()
	case types.BackendMemory:
		store = memory.New()
	default:
		return nil, types.ErrBackendUnknown
	}

	if err := store.Attach(config); err != nil {
		return nil, fmt.Errorf("attaching %s backend: %w", config.Backend, err)
	}
	return store, nil
}

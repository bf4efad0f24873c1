// Package sqlite implements the SQLite storage backend for mimi. SQLite is
// the query engine; kv.jsonl in the data directory is the source of truth
// and is rebuilt into a fresh database on every Attach.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/mimi/internal/changefeed"
	"github.com/mesh-intelligence/mimi/pkg/types"
)

var _ types.Store = (*Backend)(nil)

// Backend implements types.Store on SQLite with JSONL persistence.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	dataDir  string
	db       *sql.DB
	feed     *changefeed.Hub

	// Sync strategy state.
	syncStrategy  string        // immediate, on_close or batch
	batchSize     int           // writes before a batch flush
	batchInterval time.Duration // time between batch flushes
	pendingWrites int           // writes not yet persisted to kv.jsonl
	batchTimer    *time.Timer   // interval flush timer
	batchMu       sync.Mutex    // protects pendingWrites and batchTimer
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend() *Backend {
	return &Backend{}
}

// Attach initializes the backend with the given configuration.
// Creates DataDir if it does not exist, rebuilds the SQLite cache from
// kv.jsonl and starts the batch timer when configured.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// The database is a cache; start from an empty file every time.
	dbPath := filepath.Join(dataDir, databaseDB)
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	// A single connection serializes statements and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, stmt := range schemaDDL {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return fmt.Errorf("create schema: %w", err)
		}
	}

	if err := initJSONLFile(dataDir); err != nil {
		db.Close()
		return err
	}
	if err := loadKVJSONL(db, dataDir); err != nil {
		db.Close()
		return fmt.Errorf("load JSONL: %w", err)
	}

	b.db = db
	b.config = config
	b.dataDir = dataDir
	b.feed = changefeed.New()

	b.syncStrategy = config.GetSyncStrategy()
	b.batchSize = config.GetBatchSize()
	b.batchInterval = time.Duration(config.GetBatchInterval()) * time.Second
	b.pendingWrites = 0

	b.attached = true

	if b.syncStrategy == types.SyncBatch && b.batchInterval > 0 {
		b.startBatchTimer()
	}
	return nil
}

// Detach flushes pending writes, closes the database and drops all
// subscribers. After Detach, all operations return ErrStoreDetached.
// Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}

	b.stopBatchTimer()

	if err := b.flushPendingWritesLocked(); err != nil {
		return fmt.Errorf("flush pending writes: %w", err)
	}

	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}
	b.feed.Close()
	b.attached = false
	return nil
}

// DataDir returns the directory the backend persists to.
func (b *Backend) DataDir() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dataDir
}

// Subscribe registers a change listener. A detached backend returns a
// no-op unsubscribe.
func (b *Backend) Subscribe(listener types.ChangeListener) func() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return func() {}
	}
	return b.feed.Subscribe(listener)
}

// shouldPersistImmediately reports whether every write goes straight to
// kv.jsonl.
func (b *Backend) shouldPersistImmediately() bool {
	return b.syncStrategy == types.SyncImmediate || b.syncStrategy == ""
}

// afterWriteLocked persists or queues one committed write.
// The caller must hold b.mu write lock.
func (b *Backend) afterWriteLocked() error {
	if b.shouldPersistImmediately() {
		return b.persistLocked()
	}
	return b.queueWrite()
}

// queueWrite records a write pending persistence. Under the batch strategy
// reaching the batch size flushes synchronously.
// The caller must hold b.mu write lock.
func (b *Backend) queueWrite() error {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()

	b.pendingWrites++
	if b.syncStrategy == types.SyncBatch && b.batchSize > 0 && b.pendingWrites >= b.batchSize {
		return b.flushPendingWritesBatchLocked()
	}
	return nil
}

// flushPendingWritesLocked persists queued writes.
// The caller must hold b.mu write lock.
func (b *Backend) flushPendingWritesLocked() error {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()

	return b.flushPendingWritesBatchLocked()
}

// flushPendingWritesBatchLocked persists when anything is queued.
// The caller must hold b.batchMu.
func (b *Backend) flushPendingWritesBatchLocked() error {
	if b.pendingWrites == 0 {
		return nil
	}
	if err := b.persistLocked(); err != nil {
		return fmt.Errorf("flush %d writes: %w", b.pendingWrites, err)
	}
	b.pendingWrites = 0
	return nil
}

// persistLocked dumps the kv table to kv.jsonl.
// The caller must hold b.mu.
func (b *Backend) persistLocked() error {
	rows, err := b.db.Query("SELECT key, value, updated_at FROM kv ORDER BY key")
	if err != nil {
		return fmt.Errorf("querying kv for persist: %w", err)
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		var rec kvJSON
		var value string
		if err := rows.Scan(&rec.Key, &value, &rec.UpdatedAt); err != nil {
			return fmt.Errorf("scanning kv row: %w", err)
		}
		rec.Value = json.RawMessage(value)
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshaling key %q: %w", rec.Key, err)
		}
		records = append(records, line)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return writeJSONL(filepath.Join(b.dataDir, kvJSONL), records)
}

// startBatchTimer starts the periodic flush for the batch strategy.
func (b *Backend) startBatchTimer() {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()

	if b.batchTimer != nil {
		return
	}

	b.batchTimer = time.AfterFunc(b.batchInterval, func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if !b.attached {
			return
		}

		_ = b.flushPendingWritesLocked()

		b.batchMu.Lock()
		if b.batchTimer != nil {
			b.batchTimer.Reset(b.batchInterval)
		}
		b.batchMu.Unlock()
	})
}

// stopBatchTimer stops the batch interval timer if running.
func (b *Backend) stopBatchTimer() {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()

	if b.batchTimer != nil {
		b.batchTimer.Stop()
		b.batchTimer = nil
	}
}

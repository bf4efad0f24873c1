package sqlite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mesh-intelligence/mimi/pkg/types"
)

// StartWatch watches kv.jsonl for rewrites by other processes. Each rewrite
// is reloaded and diffed against the cache; only keys whose value differs
// are applied and published, so the backend's own writes stay silent.
//
// The watcher is registered before StartWatch returns. The returned wait
// function blocks until ctx is done and reports watcher failures.
// Watching requires the immediate sync strategy because a reload would
// otherwise discard queued writes.
func (b *Backend) StartWatch(ctx context.Context, log *slog.Logger) (wait func() error, err error) {
	b.mu.RLock()
	attached, dataDir, immediate := b.attached, b.dataDir, b.shouldPersistImmediately()
	b.mu.RUnlock()

	if !attached {
		return nil, types.ErrStoreDetached
	}
	if !immediate {
		return nil, types.ErrWatchUnsupported
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "sqlite_watch"))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory: atomic renames replace the file's inode.
	if err := watcher.Add(dataDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", dataDir, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- b.watchLoop(ctx, watcher, log)
	}()

	return func() error { return <-done }, nil
}

func (b *Backend) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, log *slog.Logger) error {
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != kvJSONL {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			n, err := b.reloadFromDisk(ctx)
			if err != nil {
				log.Warn("reload after external write failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				log.Debug("applied external changes", slog.Int("keys", n))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher: %w", err)
		}
	}
}

// reloadFromDisk reconciles the cache with kv.jsonl and publishes the
// difference. It returns the number of changed keys.
func (b *Backend) reloadFromDisk(ctx context.Context) (int, error) {
	b.mu.Lock()
	if !b.attached {
		b.mu.Unlock()
		return 0, nil
	}

	changes, err := b.reconcileLocked(ctx)
	feed, area := b.feed, b.config.GetArea()
	b.mu.Unlock()

	if err != nil {
		return 0, err
	}
	feed.Publish(area, changes)
	return len(changes), nil
}

func (b *Backend) reconcileLocked(ctx context.Context) (map[string]types.Change, error) {
	onDisk, err := readKVFile(filepath.Join(b.dataDir, kvJSONL))
	if err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx, "SELECT key, value FROM kv")
	if err != nil {
		return nil, fmt.Errorf("querying cache: %w", err)
	}
	cached, err := scanPairs(rows, make(map[string]json.RawMessage))
	rows.Close()
	if err != nil {
		return nil, err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning reconcile: %w", err)
	}
	defer tx.Rollback()

	changes := make(map[string]types.Change)
	for key, rec := range onDisk {
		old, ok := cached[key]
		if ok && bytes.Equal(old, rec.Value) {
			continue
		}
		updatedAt := rec.UpdatedAt
		if updatedAt == "" {
			updatedAt = time.Now().UTC().Format(time.RFC3339)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, string(rec.Value), updatedAt,
		); err != nil {
			return nil, fmt.Errorf("applying key %q: %w", key, err)
		}
		changes[key] = types.Change{OldValue: old, NewValue: cloneRaw(rec.Value)}
	}
	for key, old := range cached {
		if _, ok := onDisk[key]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
			return nil, fmt.Errorf("dropping key %q: %w", key, err)
		}
		changes[key] = types.Change{OldValue: old}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing reconcile: %w", err)
	}
	return changes, nil
}

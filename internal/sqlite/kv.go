package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mesh-intelligence/mimi/pkg/types"
)

// Get returns the values stored under keys; absent keys are omitted.
func (b *Backend) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	for _, k := range keys {
		if k == "" {
			return nil, types.ErrInvalidKey
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrStoreDetached
	}

	out := make(map[string]json.RawMessage, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	rows, err := b.db.QueryContext(ctx,
		fmt.Sprintf("SELECT key, value FROM kv WHERE key IN (%s)", placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("querying keys: %w", err)
	}
	defer rows.Close()
	return scanPairs(rows, out)
}

// GetAll returns every stored pair.
func (b *Backend) GetAll(ctx context.Context) (map[string]json.RawMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrStoreDetached
	}

	rows, err := b.db.QueryContext(ctx, "SELECT key, value FROM kv")
	if err != nil {
		return nil, fmt.Errorf("querying all keys: %w", err)
	}
	defer rows.Close()
	return scanPairs(rows, make(map[string]json.RawMessage))
}

// Set upserts items inside one transaction, persists according to the sync
// strategy and publishes a change for every key whose value moved. Values
// are stored compacted, matching their kv.jsonl encoding. When persisting
// fails the upsert is undone and nothing is published.
func (b *Backend) Set(ctx context.Context, items map[string]json.RawMessage) error {
	compacted := make(map[string]json.RawMessage, len(items))
	for k, v := range items {
		if k == "" {
			return types.ErrInvalidKey
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return types.ErrInvalidValue
		}
		compacted[k] = buf.Bytes()
	}

	b.mu.Lock()
	if !b.attached {
		b.mu.Unlock()
		return types.ErrStoreDetached
	}

	changes, err := b.setLocked(ctx, compacted)
	if err == nil && len(changes) > 0 {
		err = b.persistOrRevertLocked(ctx, changes)
	}
	feed, area := b.feed, b.config.GetArea()
	b.mu.Unlock()

	feed.Publish(area, changes)
	return err
}

// Remove deletes keys and publishes a change for each key that existed.
// When persisting fails the keys are restored and nothing is published.
func (b *Backend) Remove(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if k == "" {
			return types.ErrInvalidKey
		}
	}

	b.mu.Lock()
	if !b.attached {
		b.mu.Unlock()
		return types.ErrStoreDetached
	}

	changes, err := b.removeLocked(ctx, keys)
	if err == nil && len(changes) > 0 {
		err = b.persistOrRevertLocked(ctx, changes)
	}
	feed, area := b.feed, b.config.GetArea()
	b.mu.Unlock()

	feed.Publish(area, changes)
	return err
}

// persistOrRevertLocked persists a committed write. On failure the write is
// rolled back in the table and changes is cleared so callers publish
// nothing. The caller must hold b.mu write lock.
func (b *Backend) persistOrRevertLocked(ctx context.Context, changes map[string]types.Change) error {
	err := b.afterWriteLocked()
	if err == nil {
		return nil
	}
	if rerr := b.revertLocked(context.WithoutCancel(ctx), changes); rerr != nil {
		err = fmt.Errorf("%w (reverting: %v)", err, rerr)
	}
	clear(changes)
	return err
}

// revertLocked restores the old value of every changed key.
func (b *Backend) revertLocked(ctx context.Context, changes map[string]types.Change) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for k, c := range changes {
		if c.OldValue == nil {
			if _, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", k); err != nil {
				return fmt.Errorf("deleting key %q: %w", k, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, string(c.OldValue), now,
		); err != nil {
			return fmt.Errorf("restoring key %q: %w", k, err)
		}
	}
	return tx.Commit()
}

func (b *Backend) setLocked(ctx context.Context, items map[string]json.RawMessage) (map[string]types.Change, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	changes := make(map[string]types.Change, len(items))
	for k, v := range items {
		old, err := lookup(ctx, tx, k)
		if err != nil {
			return nil, err
		}
		if old != nil && bytes.Equal(old, v) {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, string(v), now,
		); err != nil {
			return nil, fmt.Errorf("upserting key %q: %w", k, err)
		}
		changes[k] = types.Change{OldValue: old, NewValue: cloneRaw(v)}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing set: %w", err)
	}
	return changes, nil
}

func (b *Backend) removeLocked(ctx context.Context, keys []string) (map[string]types.Change, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	changes := make(map[string]types.Change, len(keys))
	for _, k := range keys {
		old, err := lookup(ctx, tx, k)
		if err != nil {
			return nil, err
		}
		if old == nil {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", k); err != nil {
			return nil, fmt.Errorf("deleting key %q: %w", k, err)
		}
		changes[k] = types.Change{OldValue: old}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing remove: %w", err)
	}
	return changes, nil
}

// lookup returns the current value for key or nil when absent.
func lookup(ctx context.Context, tx *sql.Tx, key string) (json.RawMessage, error) {
	var value string
	err := tx.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading key %q: %w", key, err)
	}
	return json.RawMessage(value), nil
}

func scanPairs(rows *sql.Rows, out map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning kv row: %w", err)
		}
		out[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}

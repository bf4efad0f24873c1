// Tests for the SQLite backend lifecycle, key-value operations and sync
// strategies.
package sqlite

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/mimi/pkg/types"
)

func attachTemp(t *testing.T, cfg types.Config) (*Backend, string) {
	t.Helper()
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	cfg.Backend = types.BackendSQLite
	b := NewBackend()
	require.NoError(t, b.Attach(cfg))
	t.Cleanup(func() { _ = b.Detach() })
	return b, cfg.DataDir
}

func TestBackend_Attach(t *testing.T) {
	tmpDir := t.TempDir()

	b := NewBackend()
	config := types.Config{
		Backend: types.BackendSQLite,
		DataDir: tmpDir,
	}

	err := b.Attach(config)
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	for _, name := range []string{databaseDB, kvJSONL} {
		if _, err := os.Stat(filepath.Join(tmpDir, name)); os.IsNotExist(err) {
			t.Errorf("%s not created", name)
		}
	}

	err = b.Attach(config)
	if err != types.ErrAlreadyAttached {
		t.Errorf("expected ErrAlreadyAttached, got %v", err)
	}

	b.Detach()
}

func TestBackend_AttachValidatesConfig(t *testing.T) {
	b := NewBackend()
	err := b.Attach(types.Config{Backend: "postgres", DataDir: t.TempDir()})
	assert.ErrorIs(t, err, types.ErrBackendUnknown)
}

func TestBackend_Detach(t *testing.T) {
	tmpDir := t.TempDir()

	b := NewBackend()
	b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: tmpDir})

	if err := b.Detach(); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}
	if err := b.Detach(); err != nil {
		t.Errorf("second Detach should not error, got %v", err)
	}

	ctx := context.Background()
	_, err := b.GetAll(ctx)
	assert.ErrorIs(t, err, types.ErrStoreDetached)
	_, err = b.Get(ctx, "k")
	assert.ErrorIs(t, err, types.ErrStoreDetached)
	assert.ErrorIs(t, b.Set(ctx, map[string]json.RawMessage{"k": json.RawMessage(`1`)}), types.ErrStoreDetached)
	assert.ErrorIs(t, b.Remove(ctx, "k"), types.ErrStoreDetached)
}

func TestBackend_KVCRUD(t *testing.T) {
	b, _ := attachTemp(t, types.Config{})
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, map[string]json.RawMessage{
		"mimi_abc": json.RawMessage(`{"title": "T", "notes": []}`),
		"legacy":   json.RawMessage(`"{\"title\":\"old\"}"`),
	}))

	got, err := b.Get(ctx, "mimi_abc", "nope")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"title":"T","notes":[]}`, string(got["mimi_abc"]))

	all, err := b.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, `"{\"title\":\"old\"}"`, string(all["legacy"]), "string values are kept verbatim")

	require.NoError(t, b.Set(ctx, map[string]json.RawMessage{"mimi_abc": json.RawMessage(`{"title":"U"}`)}))
	got, err = b.Get(ctx, "mimi_abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"U"}`, string(got["mimi_abc"]))

	require.NoError(t, b.Remove(ctx, "mimi_abc", "nope"))
	all, err = b.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	got, err = b.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBackend_InvalidInput(t *testing.T) {
	b, _ := attachTemp(t, types.Config{})
	ctx := context.Background()

	assert.ErrorIs(t, b.Set(ctx, map[string]json.RawMessage{"": json.RawMessage(`1`)}), types.ErrInvalidKey)
	assert.ErrorIs(t, b.Set(ctx, map[string]json.RawMessage{"k": json.RawMessage(`{`)}), types.ErrInvalidValue)
	_, err := b.Get(ctx, "")
	assert.ErrorIs(t, err, types.ErrInvalidKey)
	assert.ErrorIs(t, b.Remove(ctx, ""), types.ErrInvalidKey)
}

func TestBackend_PersistsAcrossAttach(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := context.Background()
	cfg := types.Config{Backend: types.BackendSQLite, DataDir: tmpDir}

	b := NewBackend()
	require.NoError(t, b.Attach(cfg))
	require.NoError(t, b.Set(ctx, map[string]json.RawMessage{
		"a": json.RawMessage(`1`),
		"b": json.RawMessage(`{"x":[1,2]}`),
	}))
	require.NoError(t, b.Remove(ctx, "a"))
	require.NoError(t, b.Detach())

	b2 := NewBackend()
	require.NoError(t, b2.Attach(cfg))
	defer b2.Detach()

	all, err := b2.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.JSONEq(t, `{"x":[1,2]}`, string(all["b"]))
}

func TestBackend_ChangeNotifications(t *testing.T) {
	b, _ := attachTemp(t, types.Config{Area: "local"})
	ctx := context.Background()

	var mu sync.Mutex
	var got []map[string]types.Change
	unsubscribe := b.Subscribe(func(changes map[string]types.Change, area string) {
		assert.Equal(t, "local", area)
		mu.Lock()
		got = append(got, changes)
		mu.Unlock()
	})
	defer unsubscribe()

	require.NoError(t, b.Set(ctx, map[string]json.RawMessage{"k": json.RawMessage(`1`)}))
	require.NoError(t, b.Set(ctx, map[string]json.RawMessage{"k": json.RawMessage(` 1 `)})) // same value once compacted
	require.NoError(t, b.Remove(ctx, "k"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Nil(t, got[0]["k"].OldValue)
	assert.Equal(t, `1`, string(got[0]["k"].NewValue))
	assert.Equal(t, `1`, string(got[1]["k"].OldValue))
	assert.Nil(t, got[1]["k"].NewValue)
}

func TestBackend_SubscribeDetached(t *testing.T) {
	b := NewBackend()
	unsubscribe := b.Subscribe(func(map[string]types.Change, string) {})
	unsubscribe()
}

func TestBackend_SyncOnClose(t *testing.T) {
	b, dir := attachTemp(t, types.Config{SyncStrategy: types.SyncOnClose})
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, map[string]json.RawMessage{"k": json.RawMessage(`"v"`)}))

	data, err := os.ReadFile(filepath.Join(dir, kvJSONL))
	require.NoError(t, err)
	assert.Empty(t, data, "on_close must not persist before Detach")

	require.NoError(t, b.Detach())

	data, err = os.ReadFile(filepath.Join(dir, kvJSONL))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"key":"k"`)
}

func TestBackend_SyncBatchBySize(t *testing.T) {
	b, dir := attachTemp(t, types.Config{SyncStrategy: types.SyncBatch, BatchSize: 2, BatchInterval: 3600})
	ctx := context.Background()
	path := filepath.Join(dir, kvJSONL)

	require.NoError(t, b.Set(ctx, map[string]json.RawMessage{"a": json.RawMessage(`1`)}))
	data, _ := os.ReadFile(path)
	assert.Empty(t, data)

	require.NoError(t, b.Set(ctx, map[string]json.RawMessage{"b": json.RawMessage(`2`)}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
}

func TestBackend_SyncBatchByInterval(t *testing.T) {
	b, dir := attachTemp(t, types.Config{SyncStrategy: types.SyncBatch, BatchSize: 100, BatchInterval: 1})
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, map[string]json.RawMessage{"a": json.RawMessage(`1`)}))

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(dir, kvJSONL))
		return err == nil && strings.Contains(string(data), `"key":"a"`)
	}, 3*time.Second, 50*time.Millisecond)
}

func TestBackend_ImmediateWritesJSONLLines(t *testing.T) {
	b, dir := attachTemp(t, types.Config{})
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, map[string]json.RawMessage{
		"mimi_b": json.RawMessage(`{"title":"B"}`),
		"mimi_a": json.RawMessage(`{"title":"A"}`),
	}))

	data, err := os.ReadFile(filepath.Join(dir, kvJSONL))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first kvJSON
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "mimi_a", first.Key, "lines are ordered by key")
	assert.JSONEq(t, `{"title":"A"}`, string(first.Value))
	_, err = time.Parse(time.RFC3339, first.UpdatedAt)
	assert.NoError(t, err)
}

func TestBackend_FailedPersistIsUndone(t *testing.T) {
	b, dir := attachTemp(t, types.Config{})
	ctx := context.Background()
	require.NoError(t, b.Set(ctx, map[string]json.RawMessage{"kept": json.RawMessage(`1`)}))

	var mu sync.Mutex
	var got []map[string]types.Change
	unsubscribe := b.Subscribe(func(changes map[string]types.Change, _ string) {
		mu.Lock()
		got = append(got, changes)
		mu.Unlock()
	})
	defer unsubscribe()

	b.mu.Lock()
	b.dataDir = filepath.Join(dir, "missing")
	b.mu.Unlock()

	err := b.Set(ctx, map[string]json.RawMessage{"kept": json.RawMessage(`2`), "new": json.RawMessage(`3`)})
	require.Error(t, err)
	err = b.Remove(ctx, "kept")
	require.Error(t, err)

	values, err := b.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]json.RawMessage{"kept": json.RawMessage(`1`)}, values)

	b.mu.Lock()
	b.dataDir = dir
	b.mu.Unlock()

	// A successful write still publishes, and it is the only notification.
	require.NoError(t, b.Set(ctx, map[string]json.RawMessage{"after": json.RawMessage(`4`)}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "after")
}

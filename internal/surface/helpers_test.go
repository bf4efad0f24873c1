package surface

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/mimi/internal/analytics"
	"github.com/mesh-intelligence/mimi/internal/memory"
	"github.com/mesh-intelligence/mimi/internal/notes"
	"github.com/mesh-intelligence/mimi/pkg/types"
)

const (
	vidA = "aaaaaaaaaaa"
	vidB = "bbbbbbbbbbb"
)

var errBoom = errors.New("boom")

func watchURL(id string) string { return "https://www.youtube.com/watch?v=" + id }

// testStore is a memory store that counts writes, can fail and can mute
// change notifications.
type testStore struct {
	*memory.Store
	writes  atomic.Int32
	failGet atomic.Bool
	failSet atomic.Bool
	mute    bool
}

func newTestStore() *testStore {
	return &testStore{Store: memory.NewAttached()}
}

func (s *testStore) GetAll(ctx context.Context) (map[string]json.RawMessage, error) {
	if s.failGet.Load() {
		return nil, errBoom
	}
	return s.Store.GetAll(ctx)
}

func (s *testStore) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if s.failGet.Load() {
		return nil, errBoom
	}
	return s.Store.Get(ctx, keys...)
}

func (s *testStore) Set(ctx context.Context, items map[string]json.RawMessage) error {
	if s.failSet.Load() {
		return errBoom
	}
	s.writes.Add(1)
	return s.Store.Set(ctx, items)
}

func (s *testStore) Remove(ctx context.Context, keys ...string) error {
	if s.failSet.Load() {
		return errBoom
	}
	s.writes.Add(1)
	return s.Store.Remove(ctx, keys...)
}

func (s *testStore) Subscribe(l types.ChangeListener) func() {
	if s.mute {
		return func() {}
	}
	return s.Store.Subscribe(l)
}

// stubDetector returns a fixed title and counts calls.
type stubDetector struct {
	title string
	calls atomic.Int32
}

func (d *stubDetector) DetectTitle(context.Context, string) (string, error) {
	d.calls.Add(1)
	return d.title, nil
}

// events captures analytics events.
type events struct {
	mu    sync.Mutex
	names []string
}

func (e *events) Send(_ context.Context, ev analytics.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.names = append(e.names, ev.Name)
	return nil
}

func (e *events) has(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range e.names {
		if n == name {
			return true
		}
	}
	return false
}

func (e *events) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, got := range e.names {
		if got == name {
			n++
		}
	}
	return n
}

func seed(t *testing.T, kv types.Store, id string, rec *types.VideoRecord) {
	t.Helper()
	require.NoError(t, notes.NewStore(kv, "").SaveVideo(context.Background(), id, rec))
}

func record(title string, times ...int) *types.VideoRecord {
	rec := &types.VideoRecord{Title: title}
	for _, sec := range times {
		rec.Notes = notes.InsertNote(rec.Notes, types.Note{ID: notes.NewID(), CreatedAt: 1, Time: sec, Text: "seeded", VideoID: vidA})
	}
	return rec
}

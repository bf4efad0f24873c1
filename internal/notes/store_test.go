package notes

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/mimi/internal/memory"
	"github.com/mesh-intelligence/mimi/internal/sqlite"
	"github.com/mesh-intelligence/mimi/pkg/types"
)

const vid = "abcdefghijk"

func TestStore_RoundTrip(t *testing.T) {
	backends := map[string]func(t *testing.T) types.Store{
		"memory": func(t *testing.T) types.Store { return memory.NewAttached() },
		"sqlite": func(t *testing.T) types.Store {
			b := sqlite.NewBackend()
			require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
			t.Cleanup(func() { _ = b.Detach() })
			return b
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := NewStore(open(t), "")

			rec := &types.VideoRecord{Title: "Talk", Notes: []types.Note{note("b", 20), note("a", 10)}}
			require.NoError(t, s.SaveVideo(ctx, vid, rec))

			got, err := s.LoadVideo(ctx, vid)
			require.NoError(t, err)
			assert.Equal(t, rec, got)

			missing, err := s.LoadVideo(ctx, "zzzzzzzzzzz")
			require.NoError(t, err)
			assert.Nil(t, missing)

			require.NoError(t, s.SavePosition(ctx, vid, types.Position{X: 5, Y: 6}))

			all, err := s.LoadAll(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1, "position keys are not records")
			assert.Contains(t, all, vid)

			require.NoError(t, s.DeleteVideo(ctx, vid))
			all, err = s.LoadAll(ctx)
			require.NoError(t, err)
			assert.Empty(t, all)

			pos, err := s.LoadPosition(ctx, vid)
			require.NoError(t, err)
			assert.Equal(t, types.Position{X: 5, Y: 6}, pos)
		})
	}
}

func TestStore_LoadAllReturnsRawValues(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewAttached()
	require.NoError(t, kv.Set(ctx, map[string]json.RawMessage{
		"mimi_legacy0001":     json.RawMessage(`"{\"title\":\"x\"}"`),
		"mimi_pos_legacy0001": json.RawMessage(`{"x":1,"y":1}`),
		"other_ext_key":       json.RawMessage(`1`),
		"mimi_":               json.RawMessage(`2`),
	}))

	all, err := NewStore(kv, "").LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, `"{\"title\":\"x\"}"`, string(all["legacy0001"]))
}

func TestStore_Validation(t *testing.T) {
	ctx := context.Background()
	s := NewStore(memory.NewAttached(), "")

	_, err := s.LoadVideo(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidVideoID)
	assert.ErrorIs(t, s.SaveVideo(ctx, "", &types.VideoRecord{Notes: []types.Note{note("a", 1)}}), ErrInvalidVideoID)
	assert.ErrorIs(t, s.DeleteVideo(ctx, ""), ErrInvalidVideoID)
	assert.ErrorIs(t, s.SavePosition(ctx, "", types.DefaultPosition), ErrInvalidVideoID)

	assert.ErrorIs(t, s.SaveVideo(ctx, vid, &types.VideoRecord{Title: "only a title"}), ErrEmptyRecord)
	assert.ErrorIs(t, s.SaveVideo(ctx, vid, nil), ErrEmptyRecord)
}

func TestStore_PropagatesFailures(t *testing.T) {
	ctx := context.Background()
	kv := newRecordingStore()
	s := NewStore(kv, "")

	kv.failGet = true
	_, err := s.LoadVideo(ctx, vid)
	assert.ErrorIs(t, err, errBoom)
	_, err = s.LoadAll(ctx)
	assert.ErrorIs(t, err, errBoom)
	_, err = s.LoadPosition(ctx, vid)
	assert.ErrorIs(t, err, errBoom)

	kv.failGet = false
	kv.failSet = true
	assert.ErrorIs(t, s.SaveVideo(ctx, vid, &types.VideoRecord{Notes: []types.Note{note("a", 1)}}), errBoom)
	assert.ErrorIs(t, s.DeleteVideo(ctx, vid), errBoom)
}

func TestStore_DefaultPosition(t *testing.T) {
	pos, err := NewStore(memory.NewAttached(), "").LoadPosition(context.Background(), vid)
	require.NoError(t, err)
	assert.Equal(t, types.Position{X: 100, Y: 100}, pos)
}

func TestStore_AppendAndRemoveNote(t *testing.T) {
	ctx := context.Background()
	s := NewStore(memory.NewAttached(), "")

	rec, err := s.AppendNote(ctx, vid, note("a", 10), "First title")
	require.NoError(t, err)
	assert.Equal(t, "First title", rec.Title)

	rec, err = s.AppendNote(ctx, vid, note("b", 30), "Ignored")
	require.NoError(t, err)
	assert.Equal(t, "First title", rec.Title)
	assert.Equal(t, []string{"b", "a"}, ids(rec.Notes))

	_, err = s.RemoveNote(ctx, vid, 5)
	assert.ErrorIs(t, err, ErrNoteIndex)

	rec, err = s.RemoveNote(ctx, vid, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(rec.Notes))

	rec, err = s.RemoveNote(ctx, vid, 0)
	require.NoError(t, err)
	assert.Nil(t, rec)

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.NotContains(t, all, vid, "deleting the last note removes the record")

	_, err = s.RemoveNote(ctx, vid, 0)
	assert.ErrorIs(t, err, ErrVideoNotFound)
}

func TestStore_Subscribe(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewAttached()
	s := NewStore(kv, "")

	var mu sync.Mutex
	var batches [][]VideoChange
	unsubscribe := s.Subscribe(func(changes []VideoChange) {
		mu.Lock()
		batches = append(batches, changes)
		mu.Unlock()
	})
	defer unsubscribe()

	require.NoError(t, s.SavePosition(ctx, vid, types.Position{X: 1, Y: 2}))
	require.NoError(t, kv.Set(ctx, map[string]json.RawMessage{"unrelated": json.RawMessage(`1`)}))
	require.NoError(t, s.SaveVideo(ctx, vid, &types.VideoRecord{Notes: []types.Note{note("a", 1)}}))
	require.NoError(t, s.DeleteVideo(ctx, vid))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches[0], 1)
	assert.Equal(t, vid, batches[0][0].VideoID)
	assert.False(t, batches[0][0].Deleted())
	assert.Equal(t, "a", batches[0][0].Record.Notes[0].ID)
	assert.True(t, batches[1][0].Deleted())
}

func TestStore_SubscribeFiltersArea(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	require.NoError(t, kv.Attach(types.Config{Backend: types.BackendMemory, Area: "sync"}))

	called := make(chan struct{}, 1)
	s := NewStore(kv, types.AreaLocal)
	defer s.Subscribe(func([]VideoChange) { called <- struct{}{} })()

	require.NoError(t, s.SaveVideo(ctx, vid, &types.VideoRecord{Notes: []types.Note{note("a", 1)}}))

	select {
	case <-called:
		t.Fatal("change from another area was delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

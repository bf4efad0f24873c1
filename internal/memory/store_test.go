package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/mimi/pkg/types"
)

func TestStore_Lifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.GetAll(ctx)
	assert.ErrorIs(t, err, types.ErrStoreDetached)

	require.NoError(t, s.Attach(types.Config{Backend: types.BackendMemory}))
	assert.ErrorIs(t, s.Attach(types.Config{Backend: types.BackendMemory}), types.ErrAlreadyAttached)

	require.NoError(t, s.Set(ctx, map[string]json.RawMessage{"k": json.RawMessage(`"v"`)}))
	require.NoError(t, s.Detach())
	require.NoError(t, s.Detach())

	assert.ErrorIs(t, s.Set(ctx, map[string]json.RawMessage{"k": json.RawMessage(`1`)}), types.ErrStoreDetached)
	assert.ErrorIs(t, s.Remove(ctx, "k"), types.ErrStoreDetached)

	require.NoError(t, s.Attach(types.Config{Backend: types.BackendMemory}))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `"v"`, string(got["k"]))
}

func TestStore_AttachValidates(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.Attach(types.Config{}), types.ErrBackendEmpty)
}

func TestStore_GetSetRemove(t *testing.T) {
	s := NewAttached()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, map[string]json.RawMessage{
		"a": json.RawMessage(`{"x":1}`),
		"b": json.RawMessage(`[1,2]`),
	}))

	got, err := s.Get(ctx, "a", "missing")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.JSONEq(t, `{"x":1}`, string(got["a"]))

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.Remove(ctx, "a", "missing"))
	all, err = s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Contains(t, all, "b")
}

func TestStore_InvalidInput(t *testing.T) {
	s := NewAttached()
	ctx := context.Background()

	assert.ErrorIs(t, s.Set(ctx, map[string]json.RawMessage{"": json.RawMessage(`1`)}), types.ErrInvalidKey)
	assert.ErrorIs(t, s.Set(ctx, map[string]json.RawMessage{"k": json.RawMessage(`{nope`)}), types.ErrInvalidValue)
	_, err := s.Get(ctx, "")
	assert.ErrorIs(t, err, types.ErrInvalidKey)
	assert.ErrorIs(t, s.Remove(ctx, ""), types.ErrInvalidKey)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := NewAttached()
	ctx := context.Background()

	v := json.RawMessage(`"abc"`)
	require.NoError(t, s.Set(ctx, map[string]json.RawMessage{"k": v}))
	v[1] = 'z'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, string(got["k"]))
}

func TestStore_ChangeNotifications(t *testing.T) {
	s := NewAttached()
	ctx := context.Background()

	var mu sync.Mutex
	var events []map[string]types.Change
	unsubscribe := s.Subscribe(func(changes map[string]types.Change, area string) {
		assert.Equal(t, types.AreaLocal, area)
		mu.Lock()
		events = append(events, changes)
		mu.Unlock()
	})
	defer unsubscribe()

	require.NoError(t, s.Set(ctx, map[string]json.RawMessage{"k": json.RawMessage(`1`)}))
	require.NoError(t, s.Set(ctx, map[string]json.RawMessage{"k": json.RawMessage(`1`)})) // unchanged, no event
	require.NoError(t, s.Set(ctx, map[string]json.RawMessage{"k": json.RawMessage(`2`)}))
	require.NoError(t, s.Remove(ctx, "k"))
	require.NoError(t, s.Remove(ctx, "k")) // absent, no event

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Nil(t, events[0]["k"].OldValue)
	assert.JSONEq(t, `1`, string(events[0]["k"].NewValue))
	assert.JSONEq(t, `1`, string(events[1]["k"].OldValue))
	assert.JSONEq(t, `2`, string(events[1]["k"].NewValue))
	assert.JSONEq(t, `2`, string(events[2]["k"].OldValue))
	assert.Nil(t, events[2]["k"].NewValue)
}

func TestStore_CustomArea(t *testing.T) {
	s := New()
	require.NoError(t, s.Attach(types.Config{Backend: types.BackendMemory, Area: "sync"}))

	areas := make(chan string, 1)
	s.Subscribe(func(_ map[string]types.Change, area string) { areas <- area })
	require.NoError(t, s.Set(context.Background(), map[string]json.RawMessage{"k": json.RawMessage(`true`)}))

	select {
	case got := <-areas:
		assert.Equal(t, "sync", got)
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
}

func TestStore_CanceledContext(t *testing.T) {
	s := NewAttached()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

package notes

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/mesh-intelligence/mimi/internal/memory"
	"github.com/mesh-intelligence/mimi/pkg/types"
)

var errBoom = errors.New("boom")

// recordingStore counts writes on top of a memory store and can be told to
// fail.
type recordingStore struct {
	*memory.Store
	sets    atomic.Int32
	removes atomic.Int32
	failGet bool
	failSet bool
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Store: memory.NewAttached()}
}

func (r *recordingStore) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if r.failGet {
		return nil, errBoom
	}
	return r.Store.Get(ctx, keys...)
}

func (r *recordingStore) GetAll(ctx context.Context) (map[string]json.RawMessage, error) {
	if r.failGet {
		return nil, errBoom
	}
	return r.Store.GetAll(ctx)
}

func (r *recordingStore) Set(ctx context.Context, items map[string]json.RawMessage) error {
	if r.failSet {
		return errBoom
	}
	r.sets.Add(1)
	return r.Store.Set(ctx, items)
}

func (r *recordingStore) Remove(ctx context.Context, keys ...string) error {
	if r.failSet {
		return errBoom
	}
	r.removes.Add(1)
	return r.Store.Remove(ctx, keys...)
}

func (r *recordingStore) writes() int {
	return int(r.sets.Load() + r.removes.Load())
}

var _ types.Store = (*recordingStore)(nil)

func note(id string, sec int) types.Note {
	return types.Note{ID: id, CreatedAt: 1700000000000, Time: sec, Text: "note " + id, VideoID: "abcdefghijk"}
}

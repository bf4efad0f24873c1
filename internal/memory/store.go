// Package memory implements a map-backed types.Store. It keeps nothing on
// disk and is used for tests and throwaway sessions.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/mesh-intelligence/mimi/internal/changefeed"
	"github.com/mesh-intelligence/mimi/pkg/types"
)

var _ types.Store = (*Store)(nil)

// Store holds key-value pairs in memory.
type Store struct {
	mu       sync.RWMutex
	attached bool
	area     string
	data     map[string]json.RawMessage
	feed     *changefeed.Hub
}

// New creates a detached memory store.
func New() *Store {
	return &Store{
		data: make(map[string]json.RawMessage),
		feed: changefeed.New(),
	}
}

// NewAttached creates a memory store that is already attached to the
// default area. Convenient in tests.
func NewAttached() *Store {
	s := New()
	_ = s.Attach(types.Config{Backend: types.BackendMemory})
	return s
}

// Attach validates config and marks the store usable.
func (s *Store) Attach(config types.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}
	if s.feed == nil {
		s.feed = changefeed.New()
	}
	s.area = config.GetArea()
	s.attached = true
	return nil
}

// Detach drops subscribers. Data survives so a later Attach sees it.
func (s *Store) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return nil
	}
	s.attached = false
	s.feed.Close()
	s.feed = nil
	return nil
}

// Get returns the values for keys that exist.
func (s *Store) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.attached {
		return nil, types.ErrStoreDetached
	}
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if k == "" {
			return nil, types.ErrInvalidKey
		}
		if v, ok := s.data[k]; ok {
			out[k] = clone(v)
		}
	}
	return out, nil
}

// GetAll returns a copy of every pair.
func (s *Store) GetAll(ctx context.Context) (map[string]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.attached {
		return nil, types.ErrStoreDetached
	}
	out := make(map[string]json.RawMessage, len(s.data))
	for k, v := range s.data {
		out[k] = clone(v)
	}
	return out, nil
}

// Set writes items and publishes a change for every key whose value moved.
func (s *Store) Set(ctx context.Context, items map[string]json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for k, v := range items {
		if k == "" {
			return types.ErrInvalidKey
		}
		if !json.Valid(v) {
			return types.ErrInvalidValue
		}
	}

	s.mu.Lock()
	if !s.attached {
		s.mu.Unlock()
		return types.ErrStoreDetached
	}
	changes := make(map[string]types.Change, len(items))
	for k, v := range items {
		old, existed := s.data[k]
		nv := clone(v)
		s.data[k] = nv
		if existed && bytes.Equal(old, nv) {
			continue
		}
		changes[k] = types.Change{OldValue: old, NewValue: clone(nv)}
	}
	feed, area := s.feed, s.area
	s.mu.Unlock()

	feed.Publish(area, changes)
	return nil
}

// Remove deletes keys and publishes a change for each key that existed.
func (s *Store) Remove(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, k := range keys {
		if k == "" {
			return types.ErrInvalidKey
		}
	}

	s.mu.Lock()
	if !s.attached {
		s.mu.Unlock()
		return types.ErrStoreDetached
	}
	changes := make(map[string]types.Change, len(keys))
	for _, k := range keys {
		if old, ok := s.data[k]; ok {
			delete(s.data, k)
			changes[k] = types.Change{OldValue: old}
		}
	}
	feed, area := s.feed, s.area
	s.mu.Unlock()

	feed.Publish(area, changes)
	return nil
}

// Subscribe registers listener on the store's feed. Subscribing to a
// detached store yields a no-op unsubscribe and no events.
func (s *Store) Subscribe(listener types.ChangeListener) func() {
	s.mu.RLock()
	feed := s.feed
	s.mu.RUnlock()
	if feed == nil {
		return func() {}
	}
	return feed.Subscribe(listener)
}

func clone(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}

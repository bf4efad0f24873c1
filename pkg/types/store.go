package types

import (
	"context"
	"encoding/json"
	"errors"
)

// Change describes one key's transition. OldValue is nil when the key was
// created; NewValue is nil when the key was removed.
type Change struct {
	OldValue json.RawMessage `json:"oldValue,omitempty"`
	NewValue json.RawMessage `json:"newValue,omitempty"`
}

// ChangeListener receives the changed keys of one write together with the
// storage area the write happened in.
type ChangeListener func(changes map[string]Change, area string)

// Store is a namespaced key-value storage area with a change feed. Values
// are raw JSON; callers own their encoding. Every writer (this process or
// another one sharing the backend) produces change notifications.
type Store interface {
	// Attach connects the Store to the backend described by config.
	// Returns ErrAlreadyAttached if called while already attached.
	Attach(config Config) error

	// Detach releases backend resources. Idempotent. After Detach, all
	// operations return ErrStoreDetached.
	Detach() error

	// Get returns the values stored under keys. Absent keys are omitted
	// from the result rather than reported as errors.
	Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)

	// GetAll returns every key in the storage area.
	GetAll(ctx context.Context) (map[string]json.RawMessage, error)

	// Set writes all items. Existing values are overwritten. A write that
	// returns an error is not applied and produces no change notification.
	Set(ctx context.Context, items map[string]json.RawMessage) error

	// Remove deletes the given keys. Absent keys are ignored. Like Set, a
	// failed Remove leaves the keys in place and notifies nobody.
	Remove(ctx context.Context, keys ...string) error

	// Subscribe registers a listener for change notifications. Delivery is
	// asynchronous and ordered per listener. The returned function
	// unsubscribes and is safe to call more than once.
	Subscribe(listener ChangeListener) (unsubscribe func())
}

// Store lifecycle errors.
var (
	ErrStoreDetached    = errors.New("store is detached")
	ErrAlreadyAttached  = errors.New("store is already attached")
	ErrWatchUnsupported = errors.New("watching requires the immediate sync strategy")
)

// Store operation errors.
var (
	ErrInvalidKey   = errors.New("invalid key")
	ErrInvalidValue = errors.New("value is not valid JSON")
)

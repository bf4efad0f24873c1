// Package messaging carries request/response messages between a surface and
// the page context of a tab. A tab without a registered receiver fails with
// ErrNoReceiver; SendWithInject recovers by injecting the receiver and
// retrying exactly once.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// TypeToggle asks the page context to show or hide the note panel.
const TypeToggle = "TOGGLE_MIMI_NOTE"

// ErrNoReceiver is returned when no listener is registered for a tab.
var ErrNoReceiver = errors.New("could not establish connection: receiving end does not exist")

// Message is a request sent to a page context.
type Message struct {
	Type    string `json:"type"`
	VideoID string `json:"videoId,omitempty"`
}

// Response is a page context's reply.
type Response struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Visible bool   `json:"visible,omitempty"`
}

// Handler answers messages for one tab.
type Handler func(ctx context.Context, msg Message) (Response, error)

// Sender delivers a message to a tab's page context.
type Sender interface {
	Send(ctx context.Context, tabID int, msg Message) (Response, error)
}

// Injector installs the receiver into a tab's page context.
type Injector interface {
	Inject(ctx context.Context, tabID int) error
}

// InjectorFunc adapts a function to Injector.
type InjectorFunc func(ctx context.Context, tabID int) error

// Inject calls f.
func (f InjectorFunc) Inject(ctx context.Context, tabID int) error { return f(ctx, tabID) }

// Bus routes messages to per-tab handlers in process.
type Bus struct {
	mu       sync.RWMutex
	seq      uint64
	handlers map[int]registration
}

type registration struct {
	seq     uint64
	handler Handler
}

var _ Sender = (*Bus)(nil)

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]registration)}
}

// Listen registers h as the receiver for tabID, replacing any previous one.
// The returned function removes h; it does not remove a later replacement.
func (b *Bus) Listen(tabID int, h Handler) func() {
	b.mu.Lock()
	b.seq++
	seq := b.seq
	b.handlers[tabID] = registration{seq: seq, handler: h}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if reg, ok := b.handlers[tabID]; ok && reg.seq == seq {
			delete(b.handlers, tabID)
		}
	}
}

// Send delivers msg to the receiver of tabID. A handler error becomes a
// response with OK false rather than a send failure.
func (b *Bus) Send(ctx context.Context, tabID int, msg Message) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	b.mu.RLock()
	reg, ok := b.handlers[tabID]
	b.mu.RUnlock()
	if !ok {
		return Response{}, ErrNoReceiver
	}

	resp, err := reg.handler(ctx, msg)
	if err != nil {
		return Response{OK: false, Error: err.Error()}, nil
	}
	return resp, nil
}

// SendWithInject sends msg and, when the tab has no receiver, injects one
// and retries once. A second failure is returned as is.
func SendWithInject(ctx context.Context, sender Sender, injector Injector, tabID int, msg Message) (Response, error) {
	resp, err := sender.Send(ctx, tabID, msg)
	if !errors.Is(err, ErrNoReceiver) {
		return resp, err
	}
	if injector == nil {
		return resp, err
	}
	if err := injector.Inject(ctx, tabID); err != nil {
		return Response{}, fmt.Errorf("injecting receiver into tab %d: %w", tabID, err)
	}
	return sender.Send(ctx, tabID, msg)
}

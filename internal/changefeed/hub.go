// Package changefeed fans storage change notifications out to subscribers.
// Each subscriber owns an unbounded FIFO drained by a single goroutine, so a
// publisher never blocks on a slow listener and a listener may call back
// into the store that published the change.
package changefeed

import (
	"sync"

	"github.com/mesh-intelligence/mimi/pkg/types"
)

// event is one queued notification.
type event struct {
	area    string
	changes map[string]types.Change
}

// subscriber delivers events to one listener in publish order.
type subscriber struct {
	listener types.ChangeListener

	mu     sync.Mutex
	queue  []event
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// Hub is a set of subscribers. The zero value is not usable; call New.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers listener and returns its unsubscribe function.
// Subscribing to a closed Hub returns a no-op unsubscribe.
func (h *Hub) Subscribe(listener types.ChangeListener) func() {
	s := &subscriber{
		listener: listener,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return func() {}
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go s.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			h.mu.Unlock()
			s.close()
		})
	}
}

// Publish queues changes for every current subscriber. Empty change sets
// are dropped. The map is copied per subscriber.
func (h *Hub) Publish(area string, changes map[string]types.Change) {
	if len(changes) == 0 {
		return
	}

	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.push(event{area: area, changes: copyChanges(changes)})
	}
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close unsubscribes everyone. Queued events are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for s := range subs {
		s.close()
	}
}

func (s *subscriber) push(ev event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	close(s.done)
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if s.closed || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.listener(ev.changes, ev.area)
		}
	}
}

func copyChanges(in map[string]types.Change) map[string]types.Change {
	out := make(map[string]types.Change, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

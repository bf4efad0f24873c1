package surface

import (
	"context"
	"fmt"
	"sync"

	"github.com/mesh-intelligence/mimi/internal/messaging"
	"github.com/mesh-intelligence/mimi/internal/notes"
)

// OverlayHost lives in a tab's page context. It answers toggle messages by
// mounting or unmounting the overlay panel.
type OverlayHost struct {
	store *notes.Store
	tab   Tab
	opts  Options

	mu      sync.Mutex
	overlay *Overlay
	stop    func()
}

// NewOverlayHost returns a host for tab. It receives nothing until
// Attach is called.
func NewOverlayHost(store *notes.Store, tab Tab, opts Options) *OverlayHost {
	return &OverlayHost{store: store, tab: tab, opts: opts}
}

// Attach registers the host as the receiver for its tab on bus. Attaching
// again replaces the previous registration.
func (h *OverlayHost) Attach(bus *messaging.Bus) {
	stop := bus.Listen(h.tab.ID(), h.Handle)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		h.stop()
	}
	h.stop = stop
}

// Detach stops receiving messages and closes the panel.
func (h *OverlayHost) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		h.stop()
		h.stop = nil
	}
	if h.overlay != nil {
		h.overlay.Unmount()
		h.overlay = nil
	}
}

// Injector returns an injector that attaches this host to bus when asked
// for its tab.
func (h *OverlayHost) Injector(bus *messaging.Bus) messaging.Injector {
	return messaging.InjectorFunc(func(_ context.Context, tabID int) error {
		if tabID != h.tab.ID() {
			return fmt.Errorf("no page context for tab %d", tabID)
		}
		h.Attach(bus)
		return nil
	})
}

// Handle answers one message.
func (h *OverlayHost) Handle(ctx context.Context, msg messaging.Message) (messaging.Response, error) {
	if msg.Type != messaging.TypeToggle {
		return messaging.Response{}, fmt.Errorf("unknown message type %q", msg.Type)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.overlay != nil {
		h.overlay.Unmount()
		h.overlay = nil
		return messaging.Response{OK: true, Visible: false}, nil
	}

	o := NewOverlay(h.store, h.tab, h.opts)
	if err := o.Mount(ctx); err != nil {
		return messaging.Response{}, err
	}
	h.overlay = o
	return messaging.Response{OK: true, Visible: true}, nil
}

// Overlay returns the mounted panel or nil when hidden.
func (h *OverlayHost) Overlay() *Overlay {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.overlay
}

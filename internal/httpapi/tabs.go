package httpapi

import (
	"context"
	"sync"

	"github.com/mesh-intelligence/mimi/internal/messaging"
	"github.com/mesh-intelligence/mimi/internal/notes"
	"github.com/mesh-intelligence/mimi/internal/surface"
)

// Tabs keeps the page context of each browser tab driven through the API.
// A toggle opens a popup against the tab, which injects the overlay host on
// first use and asks it over the bus to show or hide the panel.
type Tabs struct {
	store *notes.Store
	opts  surface.Options
	bus   *messaging.Bus

	mu   sync.Mutex
	open map[int]*tabSession
}

type tabSession struct {
	tab  *surface.StaticTab
	host *surface.OverlayHost
	url  string
}

// NewTabs returns an empty registry. opts configures every popup and
// overlay it creates; Name is ignored.
func NewTabs(store *notes.Store, opts surface.Options) *Tabs {
	opts.Name = ""
	return &Tabs{store: store, opts: opts, bus: messaging.NewBus(), open: make(map[int]*tabSession)}
}

// Toggle shows or hides the overlay of tab id, which shows url. It returns
// the page context's reply and the mounted overlay, nil when hidden.
func (t *Tabs) Toggle(ctx context.Context, id int, url string) (messaging.Response, *surface.Overlay, error) {
	s, err := t.session(ctx, id, url)
	if err != nil {
		return messaging.Response{}, nil, err
	}

	p := surface.NewPopup(t.store, s.tab, t.bus, s.host.Injector(t.bus), t.opts)
	if err := p.Mount(ctx); err != nil {
		return messaging.Response{}, nil, err
	}
	defer p.Unmount()

	resp, err := p.ToggleOverlay(ctx)
	if err != nil {
		return resp, nil, err
	}
	return resp, s.host.Overlay(), nil
}

// Overlay returns the mounted overlay of tab id, or nil.
func (t *Tabs) Overlay(id int) *surface.Overlay {
	t.mu.Lock()
	s := t.open[id]
	t.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.host.Overlay()
}

// Close hides every overlay and forgets all tabs.
func (t *Tabs) Close() {
	t.mu.Lock()
	open := t.open
	t.open = make(map[int]*tabSession)
	t.mu.Unlock()

	for _, s := range open {
		s.host.Detach()
	}
}

// session returns the tab id, creating it on first use. A changed url is an
// in-page navigation; a mounted overlay follows it.
func (t *Tabs) session(ctx context.Context, id int, url string) (*tabSession, error) {
	t.mu.Lock()
	s, ok := t.open[id]
	if !ok {
		s = &tabSession{tab: surface.NewStaticTab(id, url, 0), url: url}
		s.host = surface.NewOverlayHost(t.store, s.tab, t.opts)
		t.open[id] = s
		t.mu.Unlock()
		return s, nil
	}
	moved := url != "" && url != s.url
	if moved {
		s.url = url
		s.tab.Go(url)
	}
	t.mu.Unlock()

	if o := s.host.Overlay(); moved && o != nil {
		if err := o.Navigate(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

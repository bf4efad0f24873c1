package surface

import (
	"context"
	"fmt"
	"io"

	"github.com/mesh-intelligence/mimi/internal/export"
	"github.com/mesh-intelligence/mimi/internal/messaging"
	"github.com/mesh-intelligence/mimi/internal/notes"
	"github.com/mesh-intelligence/mimi/pkg/types"
)

// Popup is the toolbar view: the active video's notes, the saved videos
// list, export, seeking and the overlay toggle.
type Popup struct {
	*Surface
	sender   messaging.Sender
	injector messaging.Injector
}

// NewPopup returns an unmounted popup. sender and injector reach the
// tab's page context for ToggleOverlay and may be nil.
func NewPopup(store *notes.Store, tab Tab, sender messaging.Sender, injector messaging.Injector, opts Options) *Popup {
	if opts.Name == "" {
		opts.Name = "popup"
	}
	return &Popup{
		Surface:  New(store, tab, opts),
		sender:   sender,
		injector: injector,
	}
}

// Mount mounts the surface and records the popup opening.
func (p *Popup) Mount(ctx context.Context) error {
	if err := p.Surface.Mount(ctx); err != nil {
		return err
	}
	p.track(func(ctx context.Context) { p.tracker.PopupOpened(ctx, "popup") })
	return nil
}

// JumpTo seeks the tab's player to sec.
func (p *Popup) JumpTo(ctx context.Context, sec int) error {
	if sec < 0 {
		sec = 0
	}
	if err := p.tab.Seek(ctx, sec); err != nil {
		return fmt.Errorf("jump to %d: %w", sec, err)
	}
	return nil
}

// Export renders the active video's notes to w and returns the suggested
// file name.
func (p *Popup) Export(ctx context.Context, format export.Format, w io.Writer) (string, error) {
	p.mu.Lock()
	id, err := p.activeLocked()
	rec := &types.VideoRecord{Title: p.title, Notes: append([]types.Note(nil), p.notes...)}
	p.mu.Unlock()
	if err != nil {
		return "", err
	}

	if err := export.Write(w, format, rec); err != nil {
		p.track(func(ctx context.Context) { p.tracker.Error(ctx, "popup.export", string(format)) })
		return "", err
	}
	p.track(func(ctx context.Context) { p.tracker.Export(ctx, string(format), id) })
	return export.Filename(rec.Title, id, format), nil
}

// ToggleOverlay asks the tab's page context to show or hide the overlay
// panel, injecting the receiver and retrying once when none is listening.
func (p *Popup) ToggleOverlay(ctx context.Context) (messaging.Response, error) {
	if p.sender == nil {
		return messaging.Response{}, messaging.ErrNoReceiver
	}
	id := p.ActiveID()
	resp, err := messaging.SendWithInject(ctx, p.sender, p.injector, p.tab.ID(),
		messaging.Message{Type: messaging.TypeToggle, VideoID: id})
	if err != nil {
		p.track(func(ctx context.Context) { p.tracker.Error(ctx, "popup.toggle", "no_receiver") })
		return resp, fmt.Errorf("toggle overlay: %w", err)
	}
	p.track(func(ctx context.Context) { p.tracker.StickyToggle(ctx, id, resp.Visible) })
	return resp, nil
}

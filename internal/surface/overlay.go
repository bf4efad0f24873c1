package surface

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mesh-intelligence/mimi/internal/analytics"
	"github.com/mesh-intelligence/mimi/internal/notes"
	"github.com/mesh-intelligence/mimi/internal/throttle"
	"github.com/mesh-intelligence/mimi/pkg/types"
)

// DefaultPanelThrottle is the minimum interval between position writes.
const DefaultPanelThrottle = 250 * time.Millisecond

// positionWrite is one throttled panel position save.
type positionWrite struct {
	videoID string
	pos     types.Position
}

// Overlay is the floating in-page panel. On top of the shared surface it
// keeps the panel position per video and persists drags through a trailing
// throttle. A drag burst is reported as one panel_moved event.
type Overlay struct {
	*Surface
	saver *throttle.Throttle[positionWrite]
	moved *analytics.Debounced

	position types.Position
}

// NewOverlay returns an unmounted overlay.
func NewOverlay(store *notes.Store, tab Tab, opts Options) *Overlay {
	if opts.Name == "" {
		opts.Name = "overlay"
	}
	interval := opts.PanelThrottle
	if interval <= 0 {
		interval = DefaultPanelThrottle
	}
	o := &Overlay{Surface: New(store, tab, opts), position: types.DefaultPosition}
	o.saver = throttle.New(interval, o.savePosition)
	if opts.Tracker != nil {
		o.moved = opts.Tracker.Debounced(analytics.EventPanelMoved, 0)
	}
	return o
}

// Mount mounts the surface and loads the panel position of the active
// video.
func (o *Overlay) Mount(ctx context.Context) error {
	if err := o.Surface.Mount(ctx); err != nil {
		return err
	}
	return o.loadPosition(ctx)
}

// Navigate re-resolves the active video and loads its panel position. A
// pending position write for the previous video is flushed first.
func (o *Overlay) Navigate(ctx context.Context) error {
	o.saver.Flush()
	if err := o.Surface.Navigate(ctx); err != nil {
		return err
	}
	return o.loadPosition(ctx)
}

// Unmount flushes the pending position write, stops the saver and
// unmounts the surface. Later drags are ignored.
func (o *Overlay) Unmount() {
	o.saver.Flush()
	o.saver.Stop()
	o.Surface.Unmount()
}

// Position returns the panel position.
func (o *Overlay) Position() types.Position {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.position
}

// Drag moves the panel. The position is persisted at most once per
// throttle interval and the final position always lands.
func (o *Overlay) Drag(x, y float64) {
	o.mu.Lock()
	if o.state == Uninitialized {
		o.mu.Unlock()
		return
	}
	o.position = types.Position{X: x, Y: y}
	id := o.activeID
	o.mu.Unlock()

	if id == "" {
		// Without a video the position lives only in memory.
		return
	}
	o.saver.Call(positionWrite{videoID: id, pos: types.Position{X: x, Y: y}})
	if o.moved != nil {
		o.moved.Call(analytics.Params{"videoId": id})
	}
}

// ClearAll removes every note of the active video. The record is deleted
// rather than saved empty; the video stays active.
func (o *Overlay) ClearAll(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	id, err := o.activeLocked()
	if err != nil {
		return err
	}
	if err := o.store.DeleteVideo(ctx, id); err != nil {
		return fmt.Errorf("clear notes: %w", err)
	}
	delete(o.index, id)
	o.notes = nil
	o.track(func(ctx context.Context) { o.tracker.NotesCleared(ctx, id) })
	return nil
}

func (o *Overlay) loadPosition(ctx context.Context) error {
	id := o.ActiveID()
	pos := types.DefaultPosition
	if id != "" {
		var err error
		if pos, err = o.store.LoadPosition(ctx, id); err != nil {
			return fmt.Errorf("load panel position: %w", err)
		}
	}
	o.mu.Lock()
	o.position = pos
	o.mu.Unlock()
	return nil
}

func (o *Overlay) savePosition(w positionWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()
	if err := o.store.SavePosition(ctx, w.videoID, w.pos); err != nil {
		o.log.Warn("saving panel position failed",
			slog.String("video_id", w.videoID),
			slog.String("error", err.Error()))
	}
}

package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Tracker sends events through a Transport. Track never fails and never
// blocks longer than its timeout.
type Tracker struct {
	transport Transport
	enabled   bool
	timeout   time.Duration
	log       *slog.Logger
}

// NewTracker returns a tracker over transport. A disabled config or a nil
// transport yields a tracker whose calls all resolve false.
func NewTracker(cfg Config, transport Transport, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		transport: transport,
		enabled:   cfg.Enabled && transport != nil,
		timeout:   cfg.GetTimeout(),
		log:       log.With(slog.String("component", "analytics")),
	}
}

// Disabled returns a tracker that records nothing.
func Disabled() *Tracker {
	return NewTracker(Config{}, nil, nil)
}

type trackOptions struct {
	failFast bool
	timeout  time.Duration
}

// TrackOption adjusts a single Track call.
type TrackOption func(*trackOptions)

// WithTimeout bounds the wait for the relay.
func WithTimeout(d time.Duration) TrackOption {
	return func(o *trackOptions) { o.timeout = d }
}

// WithFailFast controls whether a transport error resolves false at once
// (the default) or is retried once within the timeout.
func WithFailFast(v bool) TrackOption {
	return func(o *trackOptions) { o.failFast = v }
}

// Track sends name with params and reports whether the relay accepted it.
func (t *Tracker) Track(ctx context.Context, name string, params Params, opts ...TrackOption) bool {
	if t == nil || !t.enabled {
		return false
	}
	o := trackOptions{failFast: true, timeout: t.timeout}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	ev := Event{Name: name, Params: params}
	done := make(chan error, 1)
	go func() {
		err := t.transport.Send(ctx, ev)
		if err != nil && !o.failFast && ctx.Err() == nil {
			err = t.transport.Send(ctx, ev)
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.log.Debug("event not relayed", slog.String("event", name), slog.String("error", err.Error()))
			return false
		}
		return true
	case <-ctx.Done():
		t.log.Debug("event relay timed out", slog.String("event", name))
		return false
	}
}

// PopupOpened records the popup becoming visible. where is "popup" or
// "options".
func (t *Tracker) PopupOpened(ctx context.Context, where string) bool {
	if where == "" {
		where = "popup"
	}
	return t.Track(ctx, EventPopupOpened, Params{"where": where})
}

// StickyToggle records the note panel being shown or hidden.
func (t *Tracker) StickyToggle(ctx context.Context, videoID string, visible bool) bool {
	return t.Track(ctx, EventStickyToggle, Params{"videoId": videoID, "visible": visible})
}

// NoteAdded records a new note. length is the note's text length.
func (t *Tracker) NoteAdded(ctx context.Context, videoID string, timeSec, length int) bool {
	return t.Track(ctx, EventNoteAdded, Params{"videoId": videoID, "timeSec": timeSec, "length": length})
}

// NoteDeleted records a removed note.
func (t *Tracker) NoteDeleted(ctx context.Context, videoID string) bool {
	return t.Track(ctx, EventNoteDeleted, Params{"videoId": videoID})
}

// NotesCleared records every note of a video being removed.
func (t *Tracker) NotesCleared(ctx context.Context, videoID string) bool {
	return t.Track(ctx, EventNotesCleared, Params{"videoId": videoID})
}

// Export records an export in format ("json" or "pdf").
func (t *Tracker) Export(ctx context.Context, format, videoID string) bool {
	params := Params{"format": format}
	if videoID != "" {
		params["videoId"] = videoID
	}
	return t.Track(ctx, EventExport, params)
}

// TitleEdited records a title change.
func (t *Tracker) TitleEdited(ctx context.Context, videoID string) bool {
	return t.Track(ctx, EventTitleEdited, Params{"videoId": videoID})
}

// Error records a failure by context and code. Never pass user content.
func (t *Tracker) Error(ctx context.Context, where, code string) bool {
	params := Params{"context": where}
	if code != "" {
		params["code"] = code
	}
	return t.Track(ctx, EventError, params)
}

// Debounced coalesces bursts of one event into a single Track call issued
// delay after the last Call.
type Debounced struct {
	tracker *Tracker
	name    string
	delay   time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	gen    uint64
	params Params
}

// Debounced returns a debounced tracker for name. A zero delay means
// DefaultDebounce.
func (t *Tracker) Debounced(name string, delay time.Duration) *Debounced {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debounced{tracker: t, name: name, delay: delay}
}

// Call schedules the event with params, replacing any scheduled one.
func (d *Debounced) Call(params Params) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.params = params
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Stop cancels the scheduled event.
func (d *Debounced) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// fire runs the call scheduled as gen unless a later Call or Stop
// superseded it.
func (d *Debounced) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	params := d.params
	d.timer = nil
	d.mu.Unlock()
	d.tracker.Track(context.Background(), d.name, params)
}

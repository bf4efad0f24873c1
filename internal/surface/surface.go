// Package surface implements the note views a user interacts with: the
// popup and the in-page overlay panel. Both hold an in-memory copy of the
// active video's notes plus the index of saved videos, write through the
// note store, and converge with each other only through store change
// notifications. There is no locking across surfaces; the last writer wins.
package surface

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mesh-intelligence/mimi/internal/analytics"
	"github.com/mesh-intelligence/mimi/internal/notes"
	"github.com/mesh-intelligence/mimi/internal/youtube"
	"github.com/mesh-intelligence/mimi/pkg/types"
)

// State is a surface's lifecycle state.
type State int

// Surface states.
const (
	Uninitialized State = iota
	NoActiveVideo
	Loaded
	Reconciled
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case NoActiveVideo:
		return "no_active_video"
	case Loaded:
		return "loaded"
	case Reconciled:
		return "reconciled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Surface errors.
var (
	ErrNotMounted    = errors.New("surface is not mounted")
	ErrNoActiveVideo = errors.New("no active video")
)

// reloadTimeout bounds the index reload triggered by a change notification.
const reloadTimeout = 10 * time.Second

// Tab is the browser tab a surface is attached to.
type Tab interface {
	ID() int
	URL(ctx context.Context) (string, error)
	// CurrentTime returns the playback position in seconds.
	CurrentTime(ctx context.Context) (float64, error)
	Seek(ctx context.Context, sec int) error
}

// Options configure a surface. Zero values are usable.
type Options struct {
	Name     string
	Detector notes.TitleDetector
	Tracker  *analytics.Tracker
	Log      *slog.Logger
	Now      func() time.Time

	// PanelThrottle is the overlay position write interval.
	PanelThrottle time.Duration
}

// Snapshot is an immutable view of a surface.
type Snapshot struct {
	State    State
	ActiveID string
	Title    string
	Notes    []types.Note
	Saved    []notes.Summary
}

// Surface is the state machine shared by the popup and the overlay.
// Operations are serialized by a mutex and issue store calls in call order.
type Surface struct {
	name     string
	store    *notes.Store
	tab      Tab
	filler   *notes.TitleFiller
	detector notes.TitleDetector
	tracker  *analytics.Tracker
	log      *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	state       State
	activeID    string
	title       string
	notes       []types.Note
	index       map[string]*types.VideoRecord
	unsubscribe func()

	tracking sync.WaitGroup
}

// New returns an unmounted surface over store and tab.
func New(store *notes.Store, tab Tab, opts Options) *Surface {
	name := opts.Name
	if name == "" {
		name = "surface"
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", name))
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Surface{
		name:     name,
		store:    store,
		tab:      tab,
		filler:   notes.NewTitleFiller(store, log),
		detector: opts.Detector,
		tracker:  opts.Tracker,
		log:      log,
		now:      now,
		index:    make(map[string]*types.VideoRecord),
	}
}

// Mount loads the index, resolves the active video from the tab and starts
// listening for store changes. Mounting a mounted surface reloads it.
func (s *Surface) Mount(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("mount %s: %w", s.name, err)
	}
	s.index = notes.Visible(raw)

	url, err := s.tab.URL(ctx)
	if err != nil {
		return fmt.Errorf("mount %s: reading tab url: %w", s.name, err)
	}
	if id, ok := youtube.ParseVideoID(url); ok {
		// The index was just loaded; no second round-trip for the record.
		var rec *types.VideoRecord
		if v, ok := raw[id]; ok {
			rec = notes.NormalizeVideo(v)
		}
		s.activateLocked(ctx, id, rec)
	} else {
		s.clearActiveLocked()
	}

	if s.unsubscribe == nil {
		s.unsubscribe = s.store.Subscribe(s.handleChanges)
	}
	s.log.Debug("mounted",
		slog.String("state", s.state.String()),
		slog.String("video_id", s.activeID),
		slog.Int("saved", len(s.index)))
	return nil
}

// Unmount stops listening for changes and returns to Uninitialized.
func (s *Surface) Unmount() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.state = Uninitialized
}

// Navigate re-resolves the active video after the tab moved to another
// page without reloading.
func (s *Surface) Navigate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Uninitialized {
		return ErrNotMounted
	}
	url, err := s.tab.URL(ctx)
	if err != nil {
		return fmt.Errorf("navigate: reading tab url: %w", err)
	}
	id, ok := youtube.ParseVideoID(url)
	if !ok {
		s.clearActiveLocked()
		return nil
	}
	if id == s.activeID {
		return nil
	}
	rec, err := s.store.LoadVideo(ctx, id)
	if err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	s.activateLocked(ctx, id, rec)
	return nil
}

// Select makes a saved video the active one.
func (s *Surface) Select(ctx context.Context, videoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Uninitialized {
		return ErrNotMounted
	}
	if videoID == "" {
		return notes.ErrInvalidVideoID
	}
	rec, ok := s.index[videoID]
	if !ok {
		var err error
		if rec, err = s.store.LoadVideo(ctx, videoID); err != nil {
			return fmt.Errorf("select: %w", err)
		}
	}
	s.activateLocked(ctx, videoID, rec.Clone())
	return nil
}

// AddNote records text at the tab's current playback position. The first
// note of an untitled video resolves a title before the write.
func (s *Surface) AddNote(ctx context.Context, text string) (types.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.activeLocked()
	if err != nil {
		return types.Note{}, err
	}

	pos, err := s.tab.CurrentTime(ctx)
	if err != nil {
		return types.Note{}, fmt.Errorf("add note: reading playback time: %w", err)
	}
	n, err := notes.NewNote(id, floorSeconds(pos), text, s.now())
	if err != nil {
		return types.Note{}, err
	}

	title := s.title
	if len(s.notes) == 0 && title == "" {
		// Display-only detection; the title lands with the note below.
		title, _ = s.filler.Fill(ctx, id, "", false, s.detector)
	}

	rec := &types.VideoRecord{Title: title, Notes: notes.InsertNote(s.notes, n)}
	if err := s.store.SaveVideo(ctx, id, rec); err != nil {
		return types.Note{}, fmt.Errorf("add note: %w", err)
	}

	s.title = rec.Title
	s.notes = rec.Notes
	s.index[id] = rec.Clone()
	s.track(func(ctx context.Context) { s.tracker.NoteAdded(ctx, id, n.Time, len(n.Text)) })
	return n, nil
}

// DeleteNote removes the note at index i. Removing the last note deletes
// the record instead of persisting an empty one. The title is kept.
func (s *Surface) DeleteNote(ctx context.Context, i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.activeLocked()
	if err != nil {
		return err
	}
	remaining, err := notes.RemoveNote(s.notes, i)
	if err != nil {
		return err
	}

	if len(remaining) == 0 {
		if err := s.store.DeleteVideo(ctx, id); err != nil {
			return fmt.Errorf("delete note: %w", err)
		}
		delete(s.index, id)
	} else {
		rec := &types.VideoRecord{Title: s.title, Notes: remaining}
		if err := s.store.SaveVideo(ctx, id, rec); err != nil {
			return fmt.Errorf("delete note: %w", err)
		}
		s.index[id] = rec.Clone()
	}

	s.notes = remaining
	s.track(func(ctx context.Context) { s.tracker.NoteDeleted(ctx, id) })
	return nil
}

// DeleteVideo removes the active video's record and clears the active
// video.
func (s *Surface) DeleteVideo(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.activeLocked()
	if err != nil {
		return err
	}
	if err := s.store.DeleteVideo(ctx, id); err != nil {
		return fmt.Errorf("delete video: %w", err)
	}
	delete(s.index, id)
	s.clearActiveLocked()
	s.track(func(ctx context.Context) { s.tracker.NotesCleared(ctx, id) })
	return nil
}

// RefreshTitle detects the active video's title again. The title is
// persisted only when the video has notes.
func (s *Surface) RefreshTitle(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.activeLocked()
	if err != nil {
		return "", err
	}
	title, err := s.filler.Refresh(ctx, id, len(s.notes) > 0, s.detector)
	if err != nil {
		return s.title, fmt.Errorf("refresh title: %w", err)
	}
	if title == "" || title == s.title {
		return s.title, nil
	}
	s.title = title
	if rec, ok := s.index[id]; ok {
		rec.Title = title
	}
	s.track(func(ctx context.Context) { s.tracker.TitleEdited(ctx, id) })
	return title, nil
}

// Snapshot returns a copy of the surface state.
func (s *Surface) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// State returns the current state.
func (s *Surface) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActiveID returns the active video id or "".
func (s *Surface) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

func (s *Surface) snapshotLocked() Snapshot {
	list := make([]types.Note, len(s.notes))
	copy(list, s.notes)
	return Snapshot{
		State:    s.state,
		ActiveID: s.activeID,
		Title:    s.title,
		Notes:    list,
		Saved:    notes.Summaries(s.index),
	}
}

// handleChanges reloads the index after any record change and replaces the
// active video's local copy when its key changed.
func (s *Surface) handleChanges(changes []notes.VideoChange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Uninitialized {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()

	raw, err := s.store.LoadAll(ctx)
	if err != nil {
		s.log.Warn("reload after change failed", slog.String("error", err.Error()))
		return
	}
	s.index = notes.Visible(raw)

	if s.activeID != "" {
		for _, c := range changes {
			if c.VideoID != s.activeID {
				continue
			}
			fresh := notes.NormalizeVideo(raw[s.activeID])
			if fresh == nil {
				fresh = &types.VideoRecord{}
			}
			s.title = fresh.Title
			s.notes = fresh.Notes
			break
		}
	}
	if s.state != NoActiveVideo {
		s.state = Reconciled
	}
	s.log.Debug("reconciled", slog.Int("changes", len(changes)), slog.Int("saved", len(s.index)))
}

// activateLocked makes id the active video with rec as its stored record
// and fills a missing title for display.
func (s *Surface) activateLocked(ctx context.Context, id string, rec *types.VideoRecord) {
	s.activeID = id
	s.title = ""
	s.notes = nil
	if rec != nil {
		s.title = rec.Title
		s.notes = rec.Notes
	}
	if s.title == "" {
		title, err := s.filler.Fill(ctx, id, "", len(s.notes) > 0, s.detector)
		if err != nil {
			s.log.Warn("title fill failed", slog.String("video_id", id), slog.String("error", err.Error()))
		}
		s.title = title
		if r, ok := s.index[id]; ok && title != "" {
			r.Title = title
		}
	}
	s.state = Loaded
}

func (s *Surface) clearActiveLocked() {
	s.activeID = ""
	s.title = ""
	s.notes = nil
	s.state = NoActiveVideo
}

func (s *Surface) activeLocked() (string, error) {
	switch s.state {
	case Uninitialized:
		return "", ErrNotMounted
	case NoActiveVideo:
		return "", ErrNoActiveVideo
	}
	return s.activeID, nil
}

// track sends an analytics event without blocking the caller.
func (s *Surface) track(fn func(ctx context.Context)) {
	if s.tracker == nil {
		return
	}
	s.tracking.Go(func() { fn(context.Background()) })
}

// Drain waits for the analytics events already handed to the tracker. Each
// one is bounded by the tracker timeout. Short-lived callers such as the
// CLI drain before exiting.
func (s *Surface) Drain() {
	s.tracking.Wait()
}

// floorSeconds converts a playback position to whole non-negative seconds.
func floorSeconds(pos float64) int {
	if math.IsNaN(pos) || pos < 0 {
		return 0
	}
	if pos > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Floor(pos))
}

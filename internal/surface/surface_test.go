package surface

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/mimi/internal/analytics"
	"github.com/mesh-intelligence/mimi/internal/notes"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", Uninitialized.String())
	assert.Equal(t, "no_active_video", NoActiveVideo.String())
	assert.Equal(t, "loaded", Loaded.String())
	assert.Equal(t, "reconciled", Reconciled.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestMount_ActiveVideo(t *testing.T) {
	kv := newTestStore()
	seed(t, kv, vidA, record("Talk", 10, 40))
	require.NoError(t, kv.Set(context.Background(), map[string]json.RawMessage{
		notes.VideoKey(vidB): json.RawMessage(`{"title":"Empty","notes":[]}`),
	}))

	s := New(notes.NewStore(kv, ""), NewStaticTab(1, watchURL(vidA), 0), Options{})
	require.NoError(t, s.Mount(context.Background()))
	defer s.Unmount()

	snap := s.Snapshot()
	assert.Equal(t, Loaded, snap.State)
	assert.Equal(t, vidA, snap.ActiveID)
	assert.Equal(t, "Talk", snap.Title)
	require.Len(t, snap.Notes, 2)
	assert.Equal(t, 40, snap.Notes[0].Time)
	require.Len(t, snap.Saved, 1, "zero-note records are hidden")
	assert.Equal(t, vidA, snap.Saved[0].VideoID)
}

func TestMount_NoActiveVideo(t *testing.T) {
	s := New(notes.NewStore(newTestStore(), ""), NewStaticTab(1, "https://example.com/", 0), Options{})
	require.NoError(t, s.Mount(context.Background()))

	assert.Equal(t, NoActiveVideo, s.State())
	_, err := s.AddNote(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoActiveVideo)
	assert.ErrorIs(t, s.DeleteNote(context.Background(), 0), ErrNoActiveVideo)
	assert.ErrorIs(t, s.DeleteVideo(context.Background()), ErrNoActiveVideo)
}

func TestMount_StoreFailure(t *testing.T) {
	kv := newTestStore()
	kv.failGet.Store(true)
	s := New(notes.NewStore(kv, ""), NewStaticTab(1, watchURL(vidA), 0), Options{})

	assert.ErrorIs(t, s.Mount(context.Background()), errBoom)
	assert.Equal(t, Uninitialized, s.State())
	_, err := s.AddNote(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotMounted)
}

func TestMount_UntitledVideoWithoutNotesIsDisplayOnly(t *testing.T) {
	kv := newTestStore()
	det := &stubDetector{title: "Detected"}
	s := New(notes.NewStore(kv, ""), NewStaticTab(1, watchURL(vidA), 0), Options{Detector: det})

	for range 3 {
		require.NoError(t, s.Mount(context.Background()))
	}
	assert.Equal(t, "Detected", s.Snapshot().Title)
	assert.Zero(t, kv.writes.Load(), "title-only records are never persisted")
}

func TestAddNote(t *testing.T) {
	ctx := context.Background()
	kv := newTestStore()
	det := &stubDetector{title: "Auto title"}
	tab := NewStaticTab(1, watchURL(vidA), 12.9)
	now := time.UnixMilli(1700000000000)
	s := New(notes.NewStore(kv, ""), tab, Options{Detector: det, Now: func() time.Time { return now }})
	require.NoError(t, s.Mount(ctx))
	assert.Equal(t, "Auto title", s.Snapshot().Title)
	assert.Zero(t, kv.writes.Load())

	n, err := s.AddNote(ctx, "  first  ")
	require.NoError(t, err)
	assert.Equal(t, 12, n.Time, "playback position is floored")
	assert.Equal(t, "first", n.Text)
	assert.Equal(t, vidA, n.VideoID)
	assert.Equal(t, now.UnixMilli(), n.CreatedAt)

	tab.SetTime(95)
	_, err = s.AddNote(ctx, "second")
	require.NoError(t, err)

	tab.SetTime(3)
	_, err = s.AddNote(ctx, "third")
	require.NoError(t, err)

	assert.Equal(t, int32(1), det.calls.Load(), "the title detected at mount lands with the first note")

	rec, err := notes.NewStore(kv, "").LoadVideo(ctx, vidA)
	require.NoError(t, err)
	assert.Equal(t, "Auto title", rec.Title)
	times := []int{rec.Notes[0].Time, rec.Notes[1].Time, rec.Notes[2].Time}
	assert.Equal(t, []int{95, 12, 3}, times)

	snap := s.Snapshot()
	assert.Equal(t, rec.Notes, snap.Notes)
	require.Len(t, snap.Saved, 1)
	assert.Equal(t, 3, snap.Saved[0].NoteCount)
}

func TestAddNote_Rejections(t *testing.T) {
	ctx := context.Background()
	kv := newTestStore()
	s := New(notes.NewStore(kv, ""), NewStaticTab(1, watchURL(vidA), 1), Options{})
	require.NoError(t, s.Mount(ctx))

	_, err := s.AddNote(ctx, "   ")
	assert.ErrorIs(t, err, notes.ErrEmptyNote)
	assert.Zero(t, kv.writes.Load())

	kv.failSet.Store(true)
	_, err = s.AddNote(ctx, "lost")
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, s.Snapshot().Notes, "local state changes only after a successful write")
}

func TestDeleteNote_LastNoteDeletesRecord(t *testing.T) {
	ctx := context.Background()
	kv := newTestStore()
	seed(t, kv, vidA, record("Talk", 5, 50))
	store := notes.NewStore(kv, "")
	s := New(store, NewStaticTab(1, watchURL(vidA), 0), Options{})
	require.NoError(t, s.Mount(ctx))

	assert.ErrorIs(t, s.DeleteNote(ctx, 2), notes.ErrNoteIndex)

	require.NoError(t, s.DeleteNote(ctx, 0))
	rec, err := store.LoadVideo(ctx, vidA)
	require.NoError(t, err)
	require.Len(t, rec.Notes, 1)
	assert.Equal(t, 5, rec.Notes[0].Time)
	assert.Equal(t, "Talk", rec.Title, "deleting a note keeps the title")

	require.NoError(t, s.DeleteNote(ctx, 0))
	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.NotContains(t, all, vidA)

	snap := s.Snapshot()
	assert.Empty(t, snap.Notes)
	assert.Empty(t, snap.Saved)
	assert.Equal(t, "Talk", snap.Title)
}

func TestDeleteVideo(t *testing.T) {
	ctx := context.Background()
	kv := newTestStore()
	seed(t, kv, vidA, record("Talk", 5))
	store := notes.NewStore(kv, "")
	s := New(store, NewStaticTab(1, watchURL(vidA), 0), Options{})
	require.NoError(t, s.Mount(ctx))

	require.NoError(t, s.DeleteVideo(ctx))

	snap := s.Snapshot()
	assert.Equal(t, NoActiveVideo, snap.State)
	assert.Empty(t, snap.ActiveID)
	assert.Empty(t, snap.Notes)

	rec, err := store.LoadVideo(ctx, vidA)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestNavigateAndSelect(t *testing.T) {
	ctx := context.Background()
	kv := newTestStore()
	seed(t, kv, vidA, record("A", 1))
	seed(t, kv, vidB, record("B", 2, 3))
	tab := NewStaticTab(1, watchURL(vidA), 0)
	s := New(notes.NewStore(kv, ""), tab, Options{})

	assert.ErrorIs(t, s.Navigate(ctx), ErrNotMounted)
	require.NoError(t, s.Mount(ctx))

	tab.Go(watchURL(vidB))
	require.NoError(t, s.Navigate(ctx))
	snap := s.Snapshot()
	assert.Equal(t, vidB, snap.ActiveID)
	assert.Equal(t, "B", snap.Title)
	assert.Len(t, snap.Notes, 2)

	tab.Go("https://www.youtube.com/feed/subscriptions")
	require.NoError(t, s.Navigate(ctx))
	assert.Equal(t, NoActiveVideo, s.State())

	require.NoError(t, s.Select(ctx, vidA))
	snap = s.Snapshot()
	assert.Equal(t, Loaded, snap.State)
	assert.Equal(t, "A", snap.Title)
	assert.ErrorIs(t, s.Select(ctx, ""), notes.ErrInvalidVideoID)
}

func TestRefreshTitle(t *testing.T) {
	ctx := context.Background()
	kv := newTestStore()
	seed(t, kv, vidA, record("Old", 1))
	det := &stubDetector{title: "New"}
	store := notes.NewStore(kv, "")
	s := New(store, NewStaticTab(1, watchURL(vidA), 0), Options{Detector: det})
	require.NoError(t, s.Mount(ctx))
	assert.Zero(t, det.calls.Load(), "known titles are not re-detected")

	title, err := s.RefreshTitle(ctx)
	require.NoError(t, err)
	assert.Equal(t, "New", title)

	rec, err := store.LoadVideo(ctx, vidA)
	require.NoError(t, err)
	assert.Equal(t, "New", rec.Title)
	assert.Equal(t, "New", s.Snapshot().Saved[0].Title)
}

func TestSurfacesConverge(t *testing.T) {
	ctx := context.Background()
	kv := newTestStore()
	store := notes.NewStore(kv, "")
	tab := NewStaticTab(1, watchURL(vidA), 30)

	popup := NewPopup(store, tab, nil, nil, Options{})
	overlay := NewOverlay(store, tab, Options{})
	require.NoError(t, popup.Mount(ctx))
	require.NoError(t, overlay.Mount(ctx))
	defer popup.Unmount()
	defer overlay.Unmount()

	_, err := popup.AddNote(ctx, "from popup")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap := overlay.Snapshot()
		return snap.State == Reconciled && len(snap.Notes) == 1 && len(snap.Saved) == 1
	}, 2*time.Second, 5*time.Millisecond)

	tab.SetTime(60)
	_, err = overlay.AddNote(ctx, "from overlay")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(popup.Snapshot().Notes) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "from overlay", popup.Snapshot().Notes[0].Text)

	require.NoError(t, overlay.ClearAll(ctx))
	require.Eventually(t, func() bool {
		snap := popup.Snapshot()
		return len(snap.Notes) == 0 && len(snap.Saved) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConcurrentEditsLastWriterWins(t *testing.T) {
	ctx := context.Background()
	kv := newTestStore()
	kv.mute = true
	store := notes.NewStore(kv, "")
	tab := NewStaticTab(1, watchURL(vidA), 10)

	first := New(store, tab, Options{Name: "popup"})
	second := New(store, tab, Options{Name: "overlay"})
	require.NoError(t, first.Mount(ctx))
	require.NoError(t, second.Mount(ctx))

	_, err := first.AddNote(ctx, "first")
	require.NoError(t, err)
	_, err = second.AddNote(ctx, "second")
	require.NoError(t, err)

	rec, err := store.LoadVideo(ctx, vidA)
	require.NoError(t, err)
	require.Len(t, rec.Notes, 1, "the earlier write is lost")
	assert.Equal(t, "second", rec.Notes[0].Text)
}

func TestUnmountStopsReconciling(t *testing.T) {
	ctx := context.Background()
	kv := newTestStore()
	store := notes.NewStore(kv, "")
	s := New(store, NewStaticTab(1, watchURL(vidA), 0), Options{})
	require.NoError(t, s.Mount(ctx))
	s.Unmount()

	seed(t, kv, vidA, record("Elsewhere", 1))
	time.Sleep(50 * time.Millisecond)
	snap := s.Snapshot()
	assert.Equal(t, Uninitialized, snap.State)
	assert.Empty(t, snap.Notes)
}

func TestAnalyticsEvents(t *testing.T) {
	ctx := context.Background()
	ev := &events{}
	tracker := analytics.NewTracker(analytics.Config{Enabled: true}, ev, nil)
	s := New(notes.NewStore(newTestStore(), ""), NewStaticTab(1, watchURL(vidA), 0), Options{Tracker: tracker})
	require.NoError(t, s.Mount(ctx))

	_, err := s.AddNote(ctx, "x")
	require.NoError(t, err)
	require.NoError(t, s.DeleteNote(ctx, 0))

	require.Eventually(t, func() bool {
		return ev.has(analytics.EventNoteAdded) && ev.has(analytics.EventNoteDeleted)
	}, time.Second, 5*time.Millisecond)
}

func TestDrainWaitsForEvents(t *testing.T) {
	ctx := context.Background()
	ev := &events{}
	slow := analytics.TransportFunc(func(ctx context.Context, e analytics.Event) error {
		time.Sleep(30 * time.Millisecond)
		return ev.Send(ctx, e)
	})
	tracker := analytics.NewTracker(analytics.Config{Enabled: true, Timeout: time.Second}, slow, nil)
	s := New(notes.NewStore(newTestStore(), ""), NewStaticTab(1, watchURL(vidA), 0), Options{Tracker: tracker})
	require.NoError(t, s.Mount(ctx))

	_, err := s.AddNote(ctx, "x")
	require.NoError(t, err)
	s.Unmount()
	s.Drain()
	assert.True(t, ev.has(analytics.EventNoteAdded))
}

func TestFloorSeconds(t *testing.T) {
	assert.Equal(t, 0, floorSeconds(-4))
	assert.Equal(t, 7, floorSeconds(7.99))
	assert.Equal(t, 0, floorSeconds(math.NaN()))
	assert.Equal(t, math.MaxInt32, floorSeconds(1e18))
}

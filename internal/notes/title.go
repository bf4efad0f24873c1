package notes

import (
	"context"
	"log/slog"
	"strings"
)

// TitleDetector finds the displayed title of a video. Implementations are
// best effort; an error or "" means no title was found.
type TitleDetector interface {
	DetectTitle(ctx context.Context, videoID string) (string, error)
}

// TitleDetectorFunc adapts a function to TitleDetector.
type TitleDetectorFunc func(ctx context.Context, videoID string) (string, error)

// DetectTitle calls f.
func (f TitleDetectorFunc) DetectTitle(ctx context.Context, videoID string) (string, error) {
	return f(ctx, videoID)
}

// TitleFiller backfills record titles without ever creating a record that
// has no notes.
type TitleFiller struct {
	store *Store
	log   *slog.Logger
}

// NewTitleFiller returns a filler writing through store.
func NewTitleFiller(store *Store, log *slog.Logger) *TitleFiller {
	if log == nil {
		log = slog.Default()
	}
	return &TitleFiller{store: store, log: log.With(slog.String("component", "title_filler"))}
}

// Fill returns the title to show for videoID.
//
// A non-empty known title is returned as is and nothing is detected. With
// hasNotes false the detected title is for display only and is never
// written. With hasNotes true it is merged into the stored record, unless
// the record already carries a title, which then wins. Detection failures
// yield ""; only store failures are returned as errors.
func (f *TitleFiller) Fill(ctx context.Context, videoID, known string, hasNotes bool, detector TitleDetector) (string, error) {
	if strings.TrimSpace(known) != "" {
		return known, nil
	}
	if detector == nil || videoID == "" {
		return "", nil
	}

	title, err := detector.DetectTitle(ctx, videoID)
	if err != nil {
		f.log.Debug("title detection failed",
			slog.String("video_id", videoID),
			slog.String("error", err.Error()))
		return "", nil
	}
	title = strings.TrimSpace(title)
	if title == "" || !hasNotes {
		return title, nil
	}

	rec, err := f.store.LoadVideo(ctx, videoID)
	if err != nil {
		return title, err
	}
	if !rec.HasNotes() {
		// The caller's view is stale; a title-only write would persist an
		// empty record.
		return title, nil
	}
	if rec.Title != "" {
		return rec.Title, nil
	}
	rec.Title = title
	if err := f.store.SaveVideo(ctx, videoID, rec); err != nil {
		return title, err
	}
	f.log.Debug("title filled", slog.String("video_id", videoID))
	return title, nil
}

// Refresh detects the title again, ignoring what is known. With hasNotes
// true a different detected title replaces the stored one; otherwise the
// result is for display only.
func (f *TitleFiller) Refresh(ctx context.Context, videoID string, hasNotes bool, detector TitleDetector) (string, error) {
	if detector == nil || videoID == "" {
		return "", nil
	}
	title, err := detector.DetectTitle(ctx, videoID)
	if err != nil {
		f.log.Debug("title refresh failed",
			slog.String("video_id", videoID),
			slog.String("error", err.Error()))
		return "", nil
	}
	title = strings.TrimSpace(title)
	if title == "" || !hasNotes {
		return title, nil
	}

	rec, err := f.store.LoadVideo(ctx, videoID)
	if err != nil {
		return title, err
	}
	if !rec.HasNotes() || rec.Title == title {
		return title, nil
	}
	rec.Title = title
	if err := f.store.SaveVideo(ctx, videoID, rec); err != nil {
		return title, err
	}
	f.log.Debug("title refreshed", slog.String("video_id", videoID))
	return title, nil
}

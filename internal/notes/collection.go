package notes

import (
	"cmp"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/mesh-intelligence/mimi/pkg/types"
)

// NewNote builds a note for videoID at sec seconds. The text is trimmed and
// must not be empty.
func NewNote(videoID string, sec int, text string, now time.Time) (types.Note, error) {
	if videoID == "" {
		return types.Note{}, ErrInvalidVideoID
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Note{}, ErrEmptyNote
	}
	if sec < 0 {
		return types.Note{}, ErrInvalidTime
	}
	return types.Note{
		ID:        NewID(),
		CreatedAt: now.UnixMilli(),
		Time:      sec,
		Text:      text,
		VideoID:   videoID,
	}, nil
}

// InsertNote returns a new slice holding notes plus n, sorted descending by
// time. The input slice is not modified.
func InsertNote(notes []types.Note, n types.Note) []types.Note {
	out := make([]types.Note, 0, len(notes)+1)
	out = append(out, notes...)
	out = append(out, n)
	SortNotes(out)
	return out
}

// SortNotes orders notes descending by time in place.
func SortNotes(notes []types.Note) {
	slices.SortStableFunc(notes, func(a, b types.Note) int {
		return cmp.Compare(b.Time, a.Time)
	})
}

// RemoveNote returns a new slice without the note at index i.
func RemoveNote(notes []types.Note, i int) ([]types.Note, error) {
	if i < 0 || i >= len(notes) {
		return nil, ErrNoteIndex
	}
	out := make([]types.Note, 0, len(notes)-1)
	out = append(out, notes[:i]...)
	out = append(out, notes[i+1:]...)
	return out, nil
}

// Visible normalizes a raw index as returned by Store.LoadAll and drops
// every record that has no notes.
func Visible(raw map[string]json.RawMessage) map[string]*types.VideoRecord {
	out := make(map[string]*types.VideoRecord, len(raw))
	for id, v := range raw {
		rec := NormalizeVideo(v)
		if !rec.HasNotes() {
			continue
		}
		out[id] = rec
	}
	return out
}

// Summary is one row of the saved-videos list.
type Summary struct {
	VideoID   string `json:"videoId"`
	Title     string `json:"title"`
	NoteCount int    `json:"noteCount"`
	UpdatedAt int64  `json:"updatedAt"` // newest note createdAt, epoch ms
}

// Summaries lists records newest first; ties are ordered by video id.
func Summaries(records map[string]*types.VideoRecord) []Summary {
	out := make([]Summary, 0, len(records))
	for id, rec := range records {
		if !rec.HasNotes() {
			continue
		}
		s := Summary{VideoID: id, Title: rec.Title, NoteCount: len(rec.Notes)}
		for _, n := range rec.Notes {
			s.UpdatedAt = max(s.UpdatedAt, n.CreatedAt)
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Summary) int {
		if c := cmp.Compare(b.UpdatedAt, a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.VideoID, b.VideoID)
	})
	return out
}

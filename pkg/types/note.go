package types

// Note is a single timestamped remark on a video. Notes are replaced
// wholesale inside their VideoRecord, never edited in place.
type Note struct {
	ID        string `json:"id"`        // UUID, assigned once at creation.
	CreatedAt int64  `json:"createdAt"` // Epoch milliseconds.
	Time      int    `json:"time"`      // Playback position in seconds, >= 0.
	Text      string `json:"text"`      // Trimmed, non-empty.
	VideoID   string `json:"videoId"`   // Owning video; mirrors the storage key.
}

// VideoRecord is everything stored for one video. Notes are ordered
// descending by Time.
type VideoRecord struct {
	Title string `json:"title"`
	Notes []Note `json:"notes"`
}

// HasNotes reports whether the record holds at least one note.
// A nil record has none.
func (r *VideoRecord) HasNotes() bool {
	return r != nil && len(r.Notes) > 0
}

// Clone returns a deep copy; the Notes slice is never shared.
func (r *VideoRecord) Clone() *VideoRecord {
	if r == nil {
		return nil
	}
	notes := make([]Note, len(r.Notes))
	copy(notes, r.Notes)
	return &VideoRecord{Title: r.Title, Notes: notes}
}

// Position is the floating panel's top-left corner in CSS pixels.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DefaultPosition is used when no position has been saved for a video.
var DefaultPosition = Position{X: 100, Y: 100}

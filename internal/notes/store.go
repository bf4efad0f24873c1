package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/mesh-intelligence/mimi/pkg/types"
)

// Storage key namespaces. Position keys share the record prefix, so record
// scans must exclude PositionPrefix explicitly.
const (
	KeyPrefix      = "mimi_"
	PositionPrefix = "mimi_pos_"
)

// VideoKey returns the storage key of a video record.
func VideoKey(videoID string) string { return KeyPrefix + videoID }

// PositionKey returns the storage key of a video's panel position.
func PositionKey(videoID string) string { return PositionPrefix + videoID }

// videoIDFromKey reports the video id of a record key.
func videoIDFromKey(key string) (string, bool) {
	if strings.HasPrefix(key, PositionPrefix) {
		return "", false
	}
	id, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// VideoChange is one record change seen on the store. Record is the
// normalized new value and is nil when the record was deleted.
type VideoChange struct {
	VideoID string
	Record  *types.VideoRecord
}

// Deleted reports whether the change removed the record.
func (c VideoChange) Deleted() bool { return c.Record == nil }

// Store maps video ids onto a types.Store. It performs no retries; store
// failures are returned wrapped to the caller.
type Store struct {
	kv   types.Store
	area string
}

// NewStore wraps kv. Change notifications from areas other than area are
// ignored; an empty area means types.AreaLocal.
func NewStore(kv types.Store, area string) *Store {
	if area == "" {
		area = types.AreaLocal
	}
	return &Store{kv: kv, area: area}
}

// LoadVideo returns the normalized record for videoID or nil when none is
// stored.
func (s *Store) LoadVideo(ctx context.Context, videoID string) (*types.VideoRecord, error) {
	if videoID == "" {
		return nil, ErrInvalidVideoID
	}
	key := VideoKey(videoID)
	got, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("loading video %s: %w", videoID, err)
	}
	raw, ok := got[key]
	if !ok {
		return nil, nil
	}
	return NormalizeVideo(raw), nil
}

// LoadAll returns every stored record keyed by video id. Values are raw;
// callers normalize them.
func (s *Store) LoadAll(ctx context.Context) (map[string]json.RawMessage, error) {
	all, err := s.kv.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading all videos: %w", err)
	}
	out := make(map[string]json.RawMessage, len(all))
	for key, raw := range all {
		if id, ok := videoIDFromKey(key); ok {
			out[id] = raw
		}
	}
	return out, nil
}

// LoadVisible returns every record that has at least one note.
func (s *Store) LoadVisible(ctx context.Context) (map[string]*types.VideoRecord, error) {
	raw, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	return Visible(raw), nil
}

// SaveVideo overwrites the whole record. Records without notes are rejected
// with ErrEmptyRecord; delete the video instead.
func (s *Store) SaveVideo(ctx context.Context, videoID string, rec *types.VideoRecord) error {
	if videoID == "" {
		return ErrInvalidVideoID
	}
	if !rec.HasNotes() {
		return ErrEmptyRecord
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding video %s: %w", videoID, err)
	}
	if err := s.kv.Set(ctx, map[string]json.RawMessage{VideoKey(videoID): data}); err != nil {
		return fmt.Errorf("saving video %s: %w", videoID, err)
	}
	return nil
}

// DeleteVideo removes the record. Deleting an absent video is not an error.
func (s *Store) DeleteVideo(ctx context.Context, videoID string) error {
	if videoID == "" {
		return ErrInvalidVideoID
	}
	if err := s.kv.Remove(ctx, VideoKey(videoID)); err != nil {
		return fmt.Errorf("deleting video %s: %w", videoID, err)
	}
	return nil
}

// LoadPosition returns the saved panel position or types.DefaultPosition.
func (s *Store) LoadPosition(ctx context.Context, videoID string) (types.Position, error) {
	if videoID == "" {
		return types.DefaultPosition, ErrInvalidVideoID
	}
	key := PositionKey(videoID)
	got, err := s.kv.Get(ctx, key)
	if err != nil {
		return types.DefaultPosition, fmt.Errorf("loading position %s: %w", videoID, err)
	}
	raw, ok := got[key]
	if !ok {
		return types.DefaultPosition, nil
	}
	return NormalizePosition(raw), nil
}

// SavePosition stores the panel position for videoID.
func (s *Store) SavePosition(ctx context.Context, videoID string, pos types.Position) error {
	if videoID == "" {
		return ErrInvalidVideoID
	}
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("encoding position %s: %w", videoID, err)
	}
	if err := s.kv.Set(ctx, map[string]json.RawMessage{PositionKey(videoID): data}); err != nil {
		return fmt.Errorf("saving position %s: %w", videoID, err)
	}
	return nil
}

// Subscribe calls fn with the record changes of every write in the store's
// area. Position keys and foreign keys are filtered out; batches with no
// record changes are not delivered. Changes are ordered by video id.
func (s *Store) Subscribe(fn func([]VideoChange)) func() {
	return s.kv.Subscribe(func(changes map[string]types.Change, area string) {
		if area != s.area {
			return
		}
		var out []VideoChange
		for key, c := range changes {
			id, ok := videoIDFromKey(key)
			if !ok {
				continue
			}
			out = append(out, VideoChange{VideoID: id, Record: NormalizeVideo(c.NewValue)})
		}
		if len(out) == 0 {
			return
		}
		slices.SortFunc(out, func(a, b VideoChange) int { return strings.Compare(a.VideoID, b.VideoID) })
		fn(out)
	})
}

// AppendNote reads the stored record, inserts n and writes the record back.
// title is applied only when the stored record has none.
func (s *Store) AppendNote(ctx context.Context, videoID string, n types.Note, title string) (*types.VideoRecord, error) {
	rec, err := s.LoadVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &types.VideoRecord{}
	}
	if rec.Title == "" {
		rec.Title = title
	}
	rec.Notes = InsertNote(rec.Notes, n)
	if err := s.SaveVideo(ctx, videoID, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RemoveNote deletes the note at index from the stored record. Removing the
// last note deletes the record and returns nil.
func (s *Store) RemoveNote(ctx context.Context, videoID string, index int) (*types.VideoRecord, error) {
	rec, err := s.LoadVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if !rec.HasNotes() {
		return nil, ErrVideoNotFound
	}
	remaining, err := RemoveNote(rec.Notes, index)
	if err != nil {
		return nil, err
	}
	if len(remaining) == 0 {
		return nil, s.DeleteVideo(ctx, videoID)
	}
	rec.Notes = remaining
	if err := s.SaveVideo(ctx, videoID, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

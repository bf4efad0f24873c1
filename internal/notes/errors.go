package notes

import "errors"

// Note domain errors.
var (
	ErrInvalidVideoID = errors.New("invalid video id")
	ErrEmptyNote      = errors.New("note text must not be empty")
	ErrInvalidTime    = errors.New("note time must not be negative")
	ErrNoteIndex      = errors.New("note index out of range")
	ErrVideoNotFound  = errors.New("video not found")
	ErrEmptyRecord    = errors.New("refusing to persist a record without notes")
)

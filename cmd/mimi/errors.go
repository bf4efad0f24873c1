package main

import (
	"errors"

	"github.com/mesh-intelligence/mimi/internal/export"
	"github.com/mesh-intelligence/mimi/internal/notes"
	"github.com/mesh-intelligence/mimi/internal/surface"
	"github.com/mesh-intelligence/mimi/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// errNoVideo is returned when an argument names no video.
var errNoVideo = errors.New("no video id found")

// sysError marks err as an environment or storage failure.
type sysError struct{ err error }

func (e sysError) Error() string { return e.err.Error() }
func (e sysError) Unwrap() error { return e.err }

func systemError(err error) error {
	if err == nil {
		return nil
	}
	return sysError{err: err}
}

// userErrors are the sentinels caused by bad input rather than a failing
// environment.
var userErrors = []error{
	errNoVideo,
	notes.ErrInvalidVideoID,
	notes.ErrEmptyNote,
	notes.ErrInvalidTime,
	notes.ErrNoteIndex,
	notes.ErrVideoNotFound,
	export.ErrUnknownFormat,
	surface.ErrNoActiveVideo,
	types.ErrBackendUnknown,
	types.ErrSyncStrategyUnknown,
	types.ErrWatchUnsupported,
}

// exitCode maps err to a process exit code. Unclassified errors, such as
// cobra usage errors, are user errors.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	var se sysError
	if errors.As(err, &se) {
		return exitSysError
	}
	return exitUserError
}

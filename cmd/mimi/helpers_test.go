package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/mimi/internal/notes"
	"github.com/mesh-intelligence/mimi/internal/surface"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitSuccess},
		{"wrapped sentinel", fmt.Errorf("add: %w", notes.ErrEmptyNote), exitUserError},
		{"no active video", surface.ErrNoActiveVideo, exitUserError},
		{"system", systemError(errors.New("disk full")), exitSysError},
		{"sentinel beats system", systemError(notes.ErrVideoNotFound), exitUserError},
		{"usage", errors.New(`unknown flag: --bogus`), exitUserError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
	assert.NoError(t, systemError(nil))
}

func TestParsePoint(t *testing.T) {
	x, y, err := parsePoint(" 10 , 20.5 ")
	require.NoError(t, err)
	assert.Equal(t, 10.0, x)
	assert.Equal(t, 20.5, y)

	for _, bad := range []string{"", "10", "a,1", "1,b"} {
		_, _, err := parsePoint(bad)
		assert.ErrorIs(t, err, errPoint, bad)
	}
}

func TestNoteTime(t *testing.T) {
	tests := []struct {
		at, url string
		want    int
		wantErr bool
	}{
		{"1:05", "https://youtu.be/" + vid + "?t=9", 65, false},
		{"", "https://youtu.be/" + vid + "?t=9", 9, false},
		{"", vid, 0, false},
		{"x", vid, 0, true},
	}
	for _, tt := range tests {
		got, err := noteTime(tt.at, tt.url)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestVideoArg(t *testing.T) {
	id, err := videoArg("https://www.youtube.com/embed/" + vid)
	require.NoError(t, err)
	assert.Equal(t, vid, id)

	_, err = videoArg("nope")
	assert.ErrorIs(t, err, errNoVideo)
}

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/mesh-intelligence/mimi/internal/notes"
	"github.com/mesh-intelligence/mimi/pkg/types"
)

var (
	idColor    = color.New(color.FgCyan)
	timeColor  = color.New(color.FgYellow, color.Bold)
	titleColor = color.New(color.Bold)
	dimColor   = color.New(color.Faint)
)

// printSummaries writes one line per saved video, newest first.
func printSummaries(w io.Writer, list []notes.Summary) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no saved videos")
		return
	}
	for _, s := range list {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "%s  %s  %s\n",
			idColor.Sprint(s.VideoID),
			titleColor.Sprint(title),
			dimColor.Sprintf("%d notes, updated %s", s.NoteCount, formatMillis(s.UpdatedAt)))
	}
}

// printRecord writes a title line followed by the indexed notes.
func printRecord(w io.Writer, videoID string, rec *types.VideoRecord) {
	title := rec.Title
	if title == "" {
		title = videoID
	}
	fmt.Fprintln(w, titleColor.Sprint(title))
	for i, n := range rec.Notes {
		fmt.Fprintf(w, "%3d  %s  %s\n", i, timeColor.Sprintf("%6s", notes.FormatTime(n.Time)), n.Text)
	}
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "never"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

// Package export renders a video's notes as a downloadable artifact: a PDF
// listing each note's timestamp and text, or the JSON document the popup
// has always produced.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/mesh-intelligence/mimi/internal/notes"
	"github.com/mesh-intelligence/mimi/pkg/types"
)

// Format names an export format.
type Format string

// Supported formats.
const (
	FormatPDF  Format = "pdf"
	FormatJSON Format = "json"
)

// DefaultHeading is printed when a video has no title.
const DefaultHeading = "Mimi Notes"

// ErrUnknownFormat is returned for formats other than pdf and json.
var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat accepts "pdf" or "json" in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatPDF, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ContentType returns the MIME type of f.
func ContentType(f Format) string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "application/json"
}

// Filename names the artifact after the title, or the video id when the
// title is empty: "<name>_notes.pdf" or "<name>_mimi_notes.json".
func Filename(title, videoID string, f Format) string {
	name := sanitize(title)
	if name == "" {
		name = sanitize(videoID)
	}
	if name == "" {
		name = "mimi"
	}
	if f == FormatPDF {
		return name + "_notes.pdf"
	}
	return name + "_mimi_notes.json"
}

// sanitize replaces characters that are unsafe in file names.
func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// Write renders rec in format f.
func Write(w io.Writer, f Format, rec *types.VideoRecord) error {
	switch f {
	case FormatPDF:
		return PDF(w, rec)
	case FormatJSON:
		return JSON(w, rec)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// jsonDocument is the JSON export layout.
type jsonDocument struct {
	VideoTitle string       `json:"videoTitle"`
	Notes      []types.Note `json:"notes"`
}

// JSON writes {"videoTitle", "notes"} indented by two spaces.
func JSON(w io.Writer, rec *types.VideoRecord) error {
	doc := jsonDocument{Notes: []types.Note{}}
	if rec != nil {
		doc.VideoTitle = rec.Title
		doc.Notes = append(doc.Notes, rec.Notes...)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding json export: %w", err)
	}
	return nil
}

// PDF writes an A4 document headed by the title with one "m:ss – text"
// line per note. Long notes wrap and pages break automatically.
func PDF(w io.Writer, rec *types.VideoRecord) error {
	heading := DefaultHeading
	var list []types.Note
	if rec != nil {
		if rec.Title != "" {
			heading = rec.Title
		}
		list = rec.Notes
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(heading, true)
	pdf.SetCreator("mimi", true)
	pdf.SetCreationDate(time.Unix(0, 0).UTC())
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 10)
	pdf.AddPage()

	// Core fonts are cp1252; the translator maps the en dash and accents.
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 14)
	pdf.MultiCell(0, 8, tr(heading), "", "L", false)
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 11)
	for _, n := range list {
		line := fmt.Sprintf("%s – %s", notes.FormatTime(n.Time), n.Text)
		pdf.MultiCell(0, 6, tr(line), "", "L", false)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("rendering pdf: %w", err)
	}
	return nil
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mesh-intelligence/mimi/internal/analytics"
	"github.com/mesh-intelligence/mimi/internal/export"
	"github.com/mesh-intelligence/mimi/internal/logger"
	"github.com/mesh-intelligence/mimi/internal/messaging"
	"github.com/mesh-intelligence/mimi/internal/notes"
	"github.com/mesh-intelligence/mimi/internal/surface"
	"github.com/mesh-intelligence/mimi/internal/youtube"
	"github.com/mesh-intelligence/mimi/pkg/types"
)

// maxBody bounds JSON request bodies.
const maxBody = 1 << 20

type handler struct {
	store     *notes.Store
	relay     *analytics.Relay
	detector  notes.TitleDetector
	filler    *notes.TitleFiller
	tracker   *analytics.Tracker
	tabs      *Tabs
	log       *slog.Logger
	now       func() time.Time
	heartbeat time.Duration
}

func newHandler(deps Deps) *handler {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "httpapi"))
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &handler{
		store:     deps.Store,
		relay:     deps.Relay,
		detector:  deps.Detector,
		filler:    notes.NewTitleFiller(deps.Store, log),
		tracker:   deps.Tracker,
		tabs:      deps.Tabs,
		log:       log,
		now:       now,
		heartbeat: heartbeat,
	}
}

// VideoResponse is one stored video.
type VideoResponse struct {
	VideoID string       `json:"videoId"`
	Title   string       `json:"title"`
	Notes   []types.Note `json:"notes"`
}

// AddNoteRequest creates a note. At accepts "m:ss", "h:mm:ss" or plain
// seconds and wins over Time.
type AddNoteRequest struct {
	Time  *float64 `json:"time"`
	At    string   `json:"at"`
	Text  string   `json:"text"`
	Title string   `json:"title"`
}

// AnalyticsRequest is one event for the relay.
type AnalyticsRequest struct {
	Name   string           `json:"name"`
	Params analytics.Params `json:"params"`
}

// ResolveResponse reports the video id found in a URL.
type ResolveResponse struct {
	VideoID   string `json:"videoId,omitempty"`
	OK        bool   `json:"ok"`
	WatchURL  string `json:"watchUrl,omitempty"`
	StartTime int    `json:"startTime,omitempty"`
}

// ToggleOverlayRequest names the page a tab shows.
type ToggleOverlayRequest struct {
	URL string `json:"url"`
}

// MoveOverlayRequest is a panel drag target in CSS pixels.
type MoveOverlayRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// OverlayResponse describes a tab's overlay panel.
type OverlayResponse struct {
	OK       bool            `json:"ok"`
	Visible  bool            `json:"visible"`
	VideoID  string          `json:"videoId,omitempty"`
	Position *types.Position `json:"position,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok", "time": h.now().UTC().Format(time.RFC3339)}
	if h.relay != nil {
		status["analytics"] = h.relay.Running()
	}
	writeJSON(w, r, http.StatusOK, status)
}

func (h *handler) listVideos(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.LoadVisible(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, notes.Summaries(recs))
}

func (h *handler) getVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.store.LoadVideo(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !rec.HasNotes() {
		h.writeError(w, r, notes.ErrVideoNotFound)
		return
	}
	writeJSON(w, r, http.StatusOK, VideoResponse{VideoID: id, Title: rec.Title, Notes: rec.Notes})
}

func (h *handler) deleteVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteVideo(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.track(func(ctx context.Context) { h.tracker.NotesCleared(ctx, id) })
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) addNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req AddNoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	sec, err := req.seconds()
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	n, err := notes.NewNote(id, sec, req.Text, h.now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		// Display-only lookup; AppendNote keeps a stored title.
		title, _ = h.filler.Fill(ctx, id, "", false, h.detector)
	}
	rec, err := h.store.AppendNote(ctx, id, n, title)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.track(func(ctx context.Context) { h.tracker.NoteAdded(ctx, id, n.Time, len(n.Text)) })
	writeJSON(w, r, http.StatusCreated, VideoResponse{VideoID: id, Title: rec.Title, Notes: rec.Notes})
}

func (h *handler) deleteNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "note index must be an integer"})
		return
	}
	rec, err := h.store.RemoveNote(r.Context(), id, index)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.track(func(ctx context.Context) { h.tracker.NoteDeleted(ctx, id) })
	if rec == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, r, http.StatusOK, VideoResponse{VideoID: id, Title: rec.Title, Notes: rec.Notes})
}

func (h *handler) exportVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format := export.FormatPDF
	if q := r.URL.Query().Get("format"); q != "" {
		var err error
		if format, err = export.ParseFormat(q); err != nil {
			writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
	}
	rec, err := h.store.LoadVideo(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !rec.HasNotes() {
		h.writeError(w, r, notes.ErrVideoNotFound)
		return
	}

	name := export.Filename(rec.Title, id, format)
	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if err := export.Write(w, format, rec); err != nil {
		logger.FromContext(r.Context()).ErrorContext(r.Context(), "export failed",
			slog.String("video_id", id), slog.String("error", err.Error()))
		h.track(func(ctx context.Context) { h.tracker.Error(ctx, "bridge.export", string(format)) })
		return
	}
	h.track(func(ctx context.Context) { h.tracker.Export(ctx, string(format), id) })
}

// refreshTitle detects the title of a video with notes again and stores
// it when it changed.
func (h *handler) refreshTitle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if h.detector == nil {
		writeJSON(w, r, http.StatusNotImplemented, ErrorResponse{Error: "title detection is not configured"})
		return
	}
	rec, err := h.store.LoadVideo(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !rec.HasNotes() {
		h.writeError(w, r, notes.ErrVideoNotFound)
		return
	}
	before := rec.Title
	if _, err := h.filler.Refresh(ctx, id, true, h.detector); err != nil {
		h.writeError(w, r, err)
		return
	}
	if rec, err = h.store.LoadVideo(ctx, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	if !rec.HasNotes() {
		h.writeError(w, r, notes.ErrVideoNotFound)
		return
	}
	if rec.Title != before {
		h.track(func(ctx context.Context) { h.tracker.TitleEdited(ctx, id) })
	}
	writeJSON(w, r, http.StatusOK, VideoResponse{VideoID: id, Title: rec.Title, Notes: rec.Notes})
}

func (h *handler) toggleOverlay(w http.ResponseWriter, r *http.Request) {
	tab, ok := tabParam(w, r)
	if !ok {
		return
	}
	var req ToggleOverlayRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	resp, o, err := h.tabs.Toggle(r.Context(), tab, req.URL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, overlayResponse(resp.OK, o))
}

func (h *handler) moveOverlay(w http.ResponseWriter, r *http.Request) {
	o, ok := h.mountedOverlay(w, r)
	if !ok {
		return
	}
	var req MoveOverlayRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if math.IsNaN(req.X) || math.IsNaN(req.Y) || math.IsInf(req.X, 0) || math.IsInf(req.Y, 0) {
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "position must be finite"})
		return
	}
	o.Drag(req.X, req.Y)
	writeJSON(w, r, http.StatusOK, overlayResponse(true, o))
}

func (h *handler) clearOverlayNotes(w http.ResponseWriter, r *http.Request) {
	o, ok := h.mountedOverlay(w, r)
	if !ok {
		return
	}
	if err := o.ClearAll(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// mountedOverlay returns the visible overlay of the tab in the URL or
// writes a 404.
func (h *handler) mountedOverlay(w http.ResponseWriter, r *http.Request) (*surface.Overlay, bool) {
	tab, ok := tabParam(w, r)
	if !ok {
		return nil, false
	}
	o := h.tabs.Overlay(tab)
	if o == nil {
		writeJSON(w, r, http.StatusNotFound, ErrorResponse{Error: "overlay is not visible"})
		return nil, false
	}
	return o, true
}

func tabParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	tab, err := strconv.Atoi(chi.URLParam(r, "tab"))
	if err != nil || tab < 0 {
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "tab id must be a non-negative integer"})
		return 0, false
	}
	return tab, true
}

func overlayResponse(ok bool, o *surface.Overlay) OverlayResponse {
	resp := OverlayResponse{OK: ok}
	if o == nil {
		return resp
	}
	pos := o.Position()
	resp.Visible = true
	resp.VideoID = o.ActiveID()
	resp.Position = &pos
	return resp
}

func (h *handler) resolve(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "missing url parameter"})
		return
	}
	id, ok := youtube.ResolveVideoID(raw)
	resp := ResolveResponse{VideoID: id, OK: ok}
	if ok {
		resp.StartTime, _ = youtube.StartTime(raw)
		resp.WatchURL = youtube.WatchURL(id, resp.StartTime)
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (h *handler) analytics(w http.ResponseWriter, r *http.Request) {
	var req AnalyticsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if h.relay == nil {
		h.writeError(w, r, analytics.ErrDisabled)
		return
	}
	if err := h.relay.Send(r.Context(), analytics.Event{Name: req.Name, Params: req.Params}); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]bool{"ok": true})
}

func (req AddNoteRequest) seconds() (int, error) {
	if req.At != "" {
		return notes.ParseTime(req.At)
	}
	if req.Time == nil {
		return 0, errors.New("one of time or at is required")
	}
	t := *req.Time
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, notes.ErrInvalidTime
	}
	if t > math.MaxInt32 {
		t = math.MaxInt32
	}
	return int(math.Floor(t)), nil
}

// track sends an analytics event without holding up the response.
func (h *handler) track(fn func(ctx context.Context)) {
	if h.tracker == nil {
		return
	}
	go fn(context.Background())
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, notes.ErrInvalidVideoID),
		errors.Is(err, notes.ErrEmptyNote),
		errors.Is(err, notes.ErrInvalidTime),
		errors.Is(err, analytics.ErrNoName):
		return http.StatusBadRequest
	case errors.Is(err, notes.ErrVideoNotFound),
		errors.Is(err, notes.ErrNoteIndex),
		errors.Is(err, analytics.ErrDisabled):
		return http.StatusNotFound
	case errors.Is(err, surface.ErrNoActiveVideo):
		return http.StatusConflict
	case errors.Is(err, messaging.ErrNoReceiver):
		return http.StatusBadGateway
	case errors.Is(err, analytics.ErrNotRunning),
		errors.Is(err, analytics.ErrQueueFull):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).ErrorContext(r.Context(), "request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, r, status, ErrorResponse{Error: err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.FromContext(r.Context()).ErrorContext(r.Context(), "failed to encode response", slog.String("error", err.Error()))
	}
}

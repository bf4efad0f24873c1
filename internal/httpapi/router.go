// Package httpapi exposes the note store over a small local HTTP API so
// tools outside the browser can read, add and export notes. It is one more
// writer against the same store; there is no coordination with surfaces
// beyond store change notifications.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mesh-intelligence/mimi/internal/analytics"
	"github.com/mesh-intelligence/mimi/internal/notes"
	"github.com/mesh-intelligence/mimi/internal/surface"
)

// DefaultHeartbeat is the interval of keep-alive comments on /api/events.
const DefaultHeartbeat = 15 * time.Second

// Deps holds the router's collaborators. Relay, Tracker and Detector are
// optional. Tabs defaults to a registry over Store that the caller cannot
// close.
type Deps struct {
	Store    *notes.Store
	Relay    *analytics.Relay
	Detector notes.TitleDetector
	Tracker  *analytics.Tracker
	Tabs     *Tabs
	Log      *slog.Logger
	Now      func() time.Time

	// AllowedOrigins are browser origins trusted besides loopback pages,
	// typically the extension's chrome-extension://<id>.
	AllowedOrigins []string

	// Heartbeat overrides DefaultHeartbeat.
	Heartbeat time.Duration
}

// NewRouter returns the HTTP handler for deps.
func NewRouter(deps Deps) http.Handler {
	if deps.Tabs == nil {
		deps.Tabs = NewTabs(deps.Store, surface.Options{Detector: deps.Detector, Tracker: deps.Tracker, Log: deps.Log, Now: deps.Now})
	}
	h := newHandler(deps)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(LoggerMiddleware(h.log))
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(CORS(deps.AllowedOrigins))

	r.Get("/healthz", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/resolve", h.resolve)
		r.Get("/events", h.events)
		r.Post("/analytics", h.analytics)

		r.Route("/videos", func(r chi.Router) {
			r.Get("/", h.listVideos)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getVideo)
				r.Delete("/", h.deleteVideo)
				r.Get("/export", h.exportVideo)
				r.Post("/title", h.refreshTitle)
				r.Post("/notes", h.addNote)
				r.Delete("/notes/{index}", h.deleteNote)
			})
		})

		r.Route("/tabs/{tab}/overlay", func(r chi.Router) {
			r.Post("/", h.toggleOverlay)
			r.Post("/position", h.moveOverlay)
			r.Delete("/notes", h.clearOverlayNotes)
		})
	})
	return r
}

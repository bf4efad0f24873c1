package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mesh-intelligence/mimi/internal/logger"
	"github.com/mesh-intelligence/mimi/internal/notes"
	"github.com/mesh-intelligence/mimi/pkg/types"
)

// ChangeEvent is one record change on the event stream. Record is absent
// when the video was deleted.
type ChangeEvent struct {
	VideoID string             `json:"videoId"`
	Deleted bool               `json:"deleted"`
	Record  *types.VideoRecord `json:"record,omitempty"`
}

// events streams store changes as server-sent events, one "change" event
// per write.
func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, r, http.StatusInternalServerError, ErrorResponse{Error: "streaming not supported"})
		return
	}

	batches := make(chan []notes.VideoChange, 16)
	stop := h.store.Subscribe(func(changes []notes.VideoChange) {
		select {
		case batches <- changes:
		case <-ctx.Done():
		}
	})
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case changes := <-batches:
			out := make([]ChangeEvent, 0, len(changes))
			for _, c := range changes {
				out = append(out, ChangeEvent{VideoID: c.VideoID, Deleted: c.Deleted(), Record: c.Record})
			}
			data, err := json.Marshal(out)
			if err != nil {
				log.ErrorContext(ctx, "encoding change event", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: change\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

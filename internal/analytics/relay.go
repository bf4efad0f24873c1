package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// deliveryTimeout bounds one Measurement Protocol request.
const deliveryTimeout = 10 * time.Second

// Relay is the background end of the pipeline. Send queues events while Run
// is active; Run delivers them in batches.
type Relay struct {
	cfg      Config
	clientID string
	client   *http.Client
	log      *slog.Logger
	queue    chan Event
	running  atomic.Bool

	delivered atomic.Int64
	failed    atomic.Int64
}

var _ Transport = (*Relay)(nil)

// NewRelay creates a relay. A nil client uses http.DefaultClient. Without a
// configured client id a random one is generated.
func NewRelay(cfg Config, client *http.Client, log *slog.Logger) *Relay {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return &Relay{
		cfg:      cfg,
		clientID: clientID,
		client:   client,
		log:      log.With(slog.String("component", "analytics_relay")),
		queue:    make(chan Event, cfg.GetQueueSize()),
	}
}

// Send queues ev for delivery. It fails when analytics is disabled, when Run
// is not active or when the queue is full.
func (r *Relay) Send(ctx context.Context, ev Event) error {
	if !r.cfg.Enabled {
		return ErrDisabled
	}
	if ev.Name == "" {
		return ErrNoName
	}
	if !r.running.Load() {
		return ErrNotRunning
	}
	select {
	case r.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Running reports whether Run is active.
func (r *Relay) Running() bool { return r.running.Load() }

// Stats returns the number of delivered and failed events.
func (r *Relay) Stats() (delivered, failed int64) {
	return r.delivered.Load(), r.failed.Load()
}

// Run delivers queued events until ctx is done, then drains what is left.
// It returns immediately when analytics is disabled.
func (r *Relay) Run(ctx context.Context) error {
	if !r.cfg.Enabled {
		r.log.Debug("analytics disabled")
		return nil
	}
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("analytics relay already running")
	}
	r.log.Info("analytics relay started", slog.String("endpoint", r.cfg.GetEndpoint()))

	for {
		select {
		case <-ctx.Done():
			r.running.Store(false)
			r.drain()
			return nil
		case ev := <-r.queue:
			batch := r.collect(ev)
			dctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
			r.deliverLogged(dctx, batch)
			cancel()
		}
	}
}

// TrackLifecycle queues the install or update event for a version change
// followed by a startup event. previous is "" on first run.
func (r *Relay) TrackLifecycle(ctx context.Context, previous, current string) {
	switch {
	case previous == "":
		_ = r.Send(ctx, Event{Name: EventInstalled, Params: Params{"version": current}})
	case previous != current:
		_ = r.Send(ctx, Event{Name: EventUpdated, Params: Params{"from": previous, "version": current}})
	}
	_ = r.Send(ctx, Event{Name: EventStartup, Params: Params{"version": current}})
}

// collect gathers first plus whatever is already queued, up to maxBatch.
func (r *Relay) collect(first Event) []Event {
	batch := []Event{first}
	for len(batch) < maxBatch {
		select {
		case ev := <-r.queue:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

func (r *Relay) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	for {
		select {
		case ev := <-r.queue:
			r.deliverLogged(ctx, r.collect(ev))
		default:
			return
		}
	}
}

func (r *Relay) deliverLogged(ctx context.Context, batch []Event) {
	if err := r.Deliver(ctx, batch...); err != nil {
		r.failed.Add(int64(len(batch)))
		r.log.Warn("analytics delivery failed",
			slog.Int("events", len(batch)),
			slog.String("error", err.Error()))
		return
	}
	r.delivered.Add(int64(len(batch)))
}

// mpPayload is the Measurement Protocol request body.
type mpPayload struct {
	ClientID string  `json:"client_id"`
	Events   []Event `json:"events"`
}

// Deliver posts events to the Measurement Protocol endpoint in one request.
func (r *Relay) Deliver(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	endpoint, err := url.Parse(r.cfg.GetEndpoint())
	if err != nil {
		return fmt.Errorf("parsing endpoint: %w", err)
	}
	q := endpoint.Query()
	if r.cfg.MeasurementID != "" {
		q.Set("measurement_id", r.cfg.MeasurementID)
	}
	if r.cfg.APISecret != "" {
		q.Set("api_secret", r.cfg.APISecret)
	}
	endpoint.RawQuery = q.Encode()

	payload := mpPayload{ClientID: r.clientID, Events: make([]Event, len(events))}
	for i, ev := range events {
		payload.Events[i] = Event{Name: ev.Name, Params: cleanParams(ev.Params)}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting events: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("posting events: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// cleanParams drops nil values, which the endpoint rejects.
func cleanParams(p Params) Params {
	if len(p) == 0 {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

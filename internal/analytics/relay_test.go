package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu       sync.Mutex
	payloads []mpPayload
	queries  []string
	status   int
}

func (c *collector) handler(w http.ResponseWriter, r *http.Request) {
	var p mpPayload
	_ = json.NewDecoder(r.Body).Decode(&p)
	c.mu.Lock()
	c.payloads = append(c.payloads, p)
	c.queries = append(c.queries, r.URL.RawQuery)
	status := c.status
	c.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func (c *collector) eventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.payloads {
		n += len(p.Events)
	}
	return n
}

func startRelay(t *testing.T, cfg Config) (*Relay, *collector) {
	t.Helper()
	c := &collector{}
	srv := httptest.NewServer(http.HandlerFunc(c.handler))
	t.Cleanup(srv.Close)

	cfg.Enabled = true
	cfg.Endpoint = srv.URL + "/mp/collect"
	r := NewRelay(cfg, srv.Client(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, r.Running, time.Second, time.Millisecond)
	return r, c
}

func TestRelay_Delivers(t *testing.T) {
	r, c := startRelay(t, Config{MeasurementID: "G-TEST", APISecret: "s3cret", ClientID: "client-1"})

	require.NoError(t, r.Send(context.Background(), Event{Name: EventNoteAdded, Params: Params{"videoId": "v", "code": nil}}))

	require.Eventually(t, func() bool { return c.eventCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, "client-1", c.payloads[0].ClientID)
	assert.Equal(t, EventNoteAdded, c.payloads[0].Events[0].Name)
	assert.Equal(t, Params{"videoId": "v"}, c.payloads[0].Events[0].Params, "nil params are dropped")
	assert.Contains(t, c.queries[0], "measurement_id=G-TEST")
	assert.Contains(t, c.queries[0], "api_secret=s3cret")

	delivered, failed := r.Stats()
	assert.Equal(t, int64(1), delivered)
	assert.Zero(t, failed)
}

func TestRelay_TrackerEndToEnd(t *testing.T) {
	r, c := startRelay(t, Config{})
	tk := NewTracker(Config{Enabled: true}, r, nil)

	assert.True(t, tk.StickyToggle(context.Background(), "vid", false))
	require.Eventually(t, func() bool { return c.eventCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestRelay_FailedDeliveryIsCounted(t *testing.T) {
	r, c := startRelay(t, Config{})
	c.mu.Lock()
	c.status = http.StatusInternalServerError
	c.mu.Unlock()

	require.NoError(t, r.Send(context.Background(), Event{Name: "x"}))
	require.Eventually(t, func() bool {
		_, failed := r.Stats()
		return failed == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRelay_SendPreconditions(t *testing.T) {
	ctx := context.Background()

	assert.ErrorIs(t, NewRelay(Config{}, nil, nil).Send(ctx, Event{Name: "x"}), ErrDisabled)

	r := NewRelay(Config{Enabled: true, QueueSize: 1}, nil, nil)
	assert.ErrorIs(t, r.Send(ctx, Event{}), ErrNoName)
	assert.ErrorIs(t, r.Send(ctx, Event{Name: "x"}), ErrNotRunning)

	r.running.Store(true)
	require.NoError(t, r.Send(ctx, Event{Name: "x"}))
	assert.ErrorIs(t, r.Send(ctx, Event{Name: "y"}), ErrQueueFull)
}

func TestRelay_RunDisabledReturns(t *testing.T) {
	assert.NoError(t, NewRelay(Config{}, nil, nil).Run(context.Background()))
}

func TestRelay_Lifecycle(t *testing.T) {
	tests := []struct {
		name     string
		previous string
		want     []string
	}{
		{"first run", "", []string{EventInstalled, EventStartup}},
		{"upgrade", "0.1.0", []string{EventUpdated, EventStartup}},
		{"same version", "0.2.0", []string{EventStartup}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRelay(Config{Enabled: true}, nil, nil)
			r.running.Store(true)
			r.TrackLifecycle(context.Background(), tt.previous, "0.2.0")

			var got []string
			for len(r.queue) > 0 {
				got = append(got, (<-r.queue).Name)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRelay_BatchesAndDrainsOnShutdown(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(http.HandlerFunc(c.handler))
	defer srv.Close()

	r := NewRelay(Config{Enabled: true, Endpoint: srv.URL}, srv.Client(), nil)
	r.running.Store(true)
	for range 30 {
		require.NoError(t, r.Send(context.Background(), Event{Name: "burst"}))
	}
	r.running.Store(false)

	r.drain()
	assert.Equal(t, 30, c.eventCount())
	c.mu.Lock()
	assert.Len(t, c.payloads, 2, "at most 25 events per request")
	c.mu.Unlock()
}

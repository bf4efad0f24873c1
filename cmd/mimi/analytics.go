package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mesh-intelligence/mimi/internal/analytics"
	"github.com/mesh-intelligence/mimi/internal/httpapi"
)

// bridgeTransport hands CLI events to the relay of a running `mimi serve`
// at a.settings.HTTPAddr. Without a bridge the events are dropped by the
// tracker after logging.
func (a *app) bridgeTransport() analytics.Transport {
	endpoint := "http://" + a.settings.HTTPAddr + "/api/analytics"
	return analytics.TransportFunc(func(ctx context.Context, ev analytics.Event) error {
		body, err := json.Marshal(httpapi.AnalyticsRequest{Name: ev.Name, Params: ev.Params})
		if err != nil {
			return fmt.Errorf("encoding event: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := a.client.Do(req)
		if err != nil {
			return fmt.Errorf("posting event: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("bridge answered %s", resp.Status)
		}
		return nil
	})
}

// trackerFor returns the tracker CLI surfaces report through, or nil when
// analytics is off.
func (a *app) trackerFor() *analytics.Tracker {
	if !a.settings.Analytics.Enabled {
		return nil
	}
	return analytics.NewTracker(a.settings.Analytics, a.bridgeTransport(), a.log)
}

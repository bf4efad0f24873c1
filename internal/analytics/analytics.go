// Package analytics records usage events. Surfaces call a Tracker, which
// hands events to a background Relay and never waits longer than a short
// timeout; the Relay delivers them to a Google Analytics Measurement
// Protocol endpoint. Analytics failures are logged and never surface to
// callers.
package analytics

import (
	"context"
	"errors"
	"time"
)

// Defaults.
const (
	DefaultEndpoint  = "https://www.google-analytics.com/mp/collect"
	DefaultTimeout   = 1500 * time.Millisecond
	DefaultDebounce  = 400 * time.Millisecond
	DefaultQueueSize = 256

	// maxBatch is the Measurement Protocol limit of events per request.
	maxBatch = 25
)

// Event names.
const (
	EventPopupOpened  = "popup_opened"
	EventStickyToggle = "sticky_toggle"
	EventPanelMoved   = "panel_moved"
	EventNoteAdded    = "note_added"
	EventNoteDeleted  = "note_deleted"
	EventNotesCleared = "notes_cleared"
	EventExport       = "export"
	EventTitleEdited  = "title_edited"
	EventError        = "error"
	EventInstalled    = "extension_installed"
	EventUpdated      = "extension_updated"
	EventStartup      = "extension_startup"
)

// Relay errors.
var (
	ErrDisabled   = errors.New("analytics disabled")
	ErrNotRunning = errors.New("analytics relay is not running")
	ErrQueueFull  = errors.New("analytics queue is full")
	ErrNoName     = errors.New("event name must not be empty")
)

// Params are event parameters. Nil values are dropped on delivery.
type Params map[string]any

// Event is one usage event.
type Event struct {
	Name   string `json:"name"`
	Params Params `json:"params,omitempty"`
}

// Config controls both ends of the pipeline.
type Config struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	MeasurementID string        `mapstructure:"measurement_id" yaml:"measurement_id"`
	APISecret     string        `mapstructure:"api_secret" yaml:"api_secret"`
	ClientID      string        `mapstructure:"client_id" yaml:"client_id,omitempty"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	QueueSize     int           `mapstructure:"queue_size" yaml:"queue_size,omitempty"`
}

// GetEndpoint returns the configured endpoint or DefaultEndpoint.
func (c Config) GetEndpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// GetTimeout returns the configured tracker timeout or DefaultTimeout.
func (c Config) GetTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// GetQueueSize returns the configured queue size or DefaultQueueSize.
func (c Config) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return DefaultQueueSize
	}
	return c.QueueSize
}

// Transport hands an event to the background context.
type Transport interface {
	Send(ctx context.Context, ev Event) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, ev Event) error

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, ev Event) error { return f(ctx, ev) }

package surface

import (
	"context"
	"sync"
)

// StaticTab is a Tab whose page and playback position are set directly.
// The CLI and the HTTP bridge use it to drive surfaces without a browser.
type StaticTab struct {
	TabID int

	mu   sync.Mutex
	url  string
	time float64
}

var _ Tab = (*StaticTab)(nil)

// NewStaticTab returns a tab showing url at playback position sec.
func NewStaticTab(id int, url string, sec float64) *StaticTab {
	return &StaticTab{TabID: id, url: url, time: sec}
}

// ID returns the tab id.
func (t *StaticTab) ID() int { return t.TabID }

// URL returns the current page.
func (t *StaticTab) URL(context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url, nil
}

// CurrentTime returns the playback position.
func (t *StaticTab) CurrentTime(context.Context) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.time, nil
}

// Seek moves the playback position.
func (t *StaticTab) Seek(_ context.Context, sec int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.time = float64(sec)
	return nil
}

// Go navigates to url in place, as a single-page app would.
func (t *StaticTab) Go(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.url = url
}

// SetTime sets the playback position.
func (t *StaticTab) SetTime(sec float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.time = sec
}

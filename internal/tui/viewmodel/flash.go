// Package viewmodel holds the TUI's view state, independent of any widget.
package viewmodel

import (
	"sync"
	"time"

	"github.com/matheus3301/deskline/internal/clock"
)

// Flash holds one transient notification.
type Flash struct {
	clk clock.Clock

	mu      sync.Mutex
	message string
	expires time.Time
}

// NewFlash creates a Flash timed by clk.
func NewFlash(clk clock.Clock) *Flash {
	if clk == nil {
		clk = clock.Real()
	}
	return &Flash{clk: clk}
}

// Set shows msg for d.
func (f *Flash) Set(msg string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.message = msg
	f.expires = f.clk.Now().Add(d)
}

// Get returns the current message, or "" once it expired.
func (f *Flash) Get() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.clk.Now().Before(f.expires) {
		return ""
	}
	return f.message
}

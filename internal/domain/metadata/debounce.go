package metadata

import (
	"sync"
	"time"
)

// Debouncer collapses rapid MPD subsystem events into a single metadata
// refresh. A stream that rewrites its title tags several times a second
// would otherwise turn every rewrite into a broadcast.
type Debouncer struct {
	window  time.Duration
	refresh func()

	mu      sync.Mutex
	pending bool
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer with the given window duration. refresh
// is called once the window elapses without further triggers.
func NewDebouncer(window time.Duration, refresh func()) *Debouncer {
	return &Debouncer{
		window:  window,
		refresh: refresh,
	}
}

// Trigger records that the given MPD subsystem has changed. Only subsystems
// that can carry stream metadata count; everything else is ignored.
func (d *Debouncer) Trigger(subsystem string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	switch subsystem {
	case "player", "playlist":
		d.pending = true
	default:
		return
	}

	// Reset the timer
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush fires the refresh callback if anything is pending.
func (d *Debouncer) flush() {
	d.mu.Lock()
	doRefresh := d.pending
	d.pending = false
	d.mu.Unlock()

	if doRefresh && d.refresh != nil {
		d.refresh()
	}
}

// Stop prevents any further callbacks from firing.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = false
}

// Package plugin supervises the OS services that implement each audio source.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/miloaudio/milo/internal/domain/source"
	"github.com/miloaudio/milo/internal/infra/systemd"
)

// ErrTimeout is returned when a start or stop does not finish within the bound.
var ErrTimeout = errors.New("supervisor timeout")

// DefaultTimeout bounds every start/stop operation.
const DefaultTimeout = 8 * time.Second

// DefaultWatchInterval is how often the watcher polls unit states.
const DefaultWatchInterval = 2 * time.Second

// DefaultUnits maps each source to the systemd unit the installer provisions.
var DefaultUnits = map[source.Source]string{
	source.Spotify:     "milo-spotify.service",
	source.Bluetooth:   "milo-bluetooth.service",
	source.MacReceiver: "milo-mac-receiver.service",
	source.Radio:       "milo-radio.service",
}

// UnitManager is the slice of the systemd client the supervisor uses.
type UnitManager interface {
	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
	Reload(ctx context.Context, unit string) error
	State(ctx context.Context, unit string) (systemd.UnitState, error)
}

// Event is an unsolicited plugin state transition, typically a crash found
// by the watcher between explicit operations.
type Event struct {
	Source source.Source
	State  source.PluginState
	Err    error
}

// Supervisor starts, stops and observes the source plugins. Start and Stop
// are idempotent and bounded by a timeout; the watcher surfaces units that
// die on their own.
type Supervisor struct {
	mgr      UnitManager
	units    map[source.Source]string
	timeout  time.Duration
	interval time.Duration
	events   chan Event

	mu      sync.Mutex
	running map[source.Source]bool // units we expect to be up
}

// NewSupervisor creates a supervisor over the given unit mapping.
func NewSupervisor(mgr UnitManager, units map[source.Source]string) *Supervisor {
	if units == nil {
		units = DefaultUnits
	}
	return &Supervisor{
		mgr:      mgr,
		units:    units,
		timeout:  DefaultTimeout,
		interval: DefaultWatchInterval,
		events:   make(chan Event, 16),
		running:  make(map[source.Source]bool),
	}
}

// SetTimeout overrides the operation timeout. Used by tests.
func (s *Supervisor) SetTimeout(d time.Duration) { s.timeout = d }

// SetWatchInterval overrides the watcher poll interval. Used by tests.
func (s *Supervisor) SetWatchInterval(d time.Duration) { s.interval = d }

// Events returns the channel carrying unsolicited plugin transitions.
func (s *Supervisor) Events() <-chan Event { return s.events }

func (s *Supervisor) unit(src source.Source) (string, error) {
	unit, ok := s.units[src]
	if !ok {
		return "", fmt.Errorf("no unit configured for source %q", src)
	}
	return unit, nil
}

// Start brings the plugin for src up. Starting an already-running source
// succeeds without side effects.
func (s *Supervisor) Start(ctx context.Context, src source.Source) error {
	if src == source.None {
		return nil
	}
	unit, err := s.unit(src)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	state, err := s.mgr.State(ctx, unit)
	if err == nil && state == systemd.UnitActive {
		log.Debug().Str("source", string(src)).Msg("Plugin already running")
		s.markRunning(src, true)
		return nil
	}

	log.Info().Str("source", string(src)).Str("unit", unit).Msg("Starting plugin")
	if err := s.mgr.Start(ctx, unit); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("start %s: %w", src, ErrTimeout)
		}
		return fmt.Errorf("start %s: %w", src, err)
	}
	s.markRunning(src, true)
	return nil
}

// Stop brings the plugin for src down. Stopping a source that was never
// started succeeds.
func (s *Supervisor) Stop(ctx context.Context, src source.Source) error {
	if src == source.None {
		return nil
	}
	unit, err := s.unit(src)
	if err != nil {
		return err
	}

	// Clear the expectation first so the watcher does not report the
	// intentional shutdown as a crash.
	s.markRunning(src, false)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	state, err := s.mgr.State(ctx, unit)
	if err == nil && (state == systemd.UnitInactive || state == systemd.UnitFailed) {
		log.Debug().Str("source", string(src)).Msg("Plugin already stopped")
		return nil
	}

	log.Info().Str("source", string(src)).Str("unit", unit).Msg("Stopping plugin")
	if err := s.mgr.Stop(ctx, unit); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("stop %s: %w", src, ErrTimeout)
		}
		return fmt.Errorf("stop %s: %w", src, err)
	}
	return nil
}

// Reload asks a running plugin to reopen its output device without dropping
// the remote peer. Used when only the routing target changed.
func (s *Supervisor) Reload(ctx context.Context, src source.Source) error {
	if src == source.None {
		return nil
	}
	unit, err := s.unit(src)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	log.Info().Str("source", string(src)).Str("unit", unit).Msg("Reloading plugin routing")
	if err := s.mgr.Reload(ctx, unit); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("reload %s: %w", src, ErrTimeout)
		}
		return fmt.Errorf("reload %s: %w", src, err)
	}
	return nil
}

// Status maps the unit's current systemd state onto the plugin lifecycle.
// "connected" is not knowable from systemd; the metadata side channel
// upgrades ready to connected when a peer attaches.
func (s *Supervisor) Status(ctx context.Context, src source.Source) source.PluginState {
	if src == source.None {
		return source.StateInactive
	}
	unit, err := s.unit(src)
	if err != nil {
		return source.StateInactive
	}

	state, err := s.mgr.State(ctx, unit)
	if err != nil {
		log.Warn().Err(err).Str("unit", unit).Msg("Unit state query failed")
		return source.StateError
	}

	switch state {
	case systemd.UnitActive:
		return source.StateReady
	case systemd.UnitActivating:
		return source.StateStarting
	case systemd.UnitFailed:
		return source.StateError
	default:
		return source.StateInactive
	}
}

func (s *Supervisor) markRunning(src source.Source, up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if up {
		s.running[src] = true
	} else {
		delete(s.running, src)
	}
}

// Watch polls the units the supervisor believes to be running and emits an
// error event when one of them has died. Runs until ctx is cancelled.
func (s *Supervisor) Watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("Plugin watcher started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Plugin watcher stopped")
			return
		case <-ticker.C:
			s.checkRunning(ctx)
		}
	}
}

func (s *Supervisor) checkRunning(ctx context.Context) {
	s.mu.Lock()
	expected := make([]source.Source, 0, len(s.running))
	for src := range s.running {
		expected = append(expected, src)
	}
	s.mu.Unlock()

	for _, src := range expected {
		unit, err := s.unit(src)
		if err != nil {
			continue
		}
		state, err := s.mgr.State(ctx, unit)
		if err != nil {
			// Transient systemctl failure; try again next tick.
			log.Warn().Err(err).Str("unit", unit).Msg("Watcher state query failed")
			continue
		}
		if state == systemd.UnitFailed || state == systemd.UnitInactive {
			log.Error().Str("source", string(src)).Str("state", string(state)).Msg("Plugin died unexpectedly")
			s.markRunning(src, false)
			s.emit(Event{
				Source: src,
				State:  source.StateError,
				Err:    fmt.Errorf("plugin %s exited unexpectedly (%s)", src, state),
			})
		}
	}
}

func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		// The coordinator is wedged on a long operation and the buffer is
		// full; the next poll re-detects anything still wrong.
		log.Warn().Str("source", string(ev.Source)).Msg("Event buffer full, dropping plugin event")
	}
}

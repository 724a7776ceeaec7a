// Package systemd shells out to systemctl to control the long-running
// services that implement each audio source.
package systemd

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// UnitState is the subset of systemd ActiveState values the core cares about.
type UnitState string

const (
	UnitActive       UnitState = "active"
	UnitActivating   UnitState = "activating"
	UnitInactive     UnitState = "inactive"
	UnitDeactivating UnitState = "deactivating"
	UnitFailed       UnitState = "failed"
)

// CommandRunner executes an external command and returns its combined output.
// Injected so tests can run without a systemd instance.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Manager drives systemd units via systemctl.
type Manager struct {
	run CommandRunner
}

// NewManager creates a manager using the real systemctl binary.
func NewManager() *Manager {
	return &Manager{run: execRunner}
}

// NewManagerWithRunner creates a manager with a custom command runner.
func NewManagerWithRunner(run CommandRunner) *Manager {
	return &Manager{run: run}
}

// Start issues `systemctl start` for the unit and waits for it to complete.
// systemctl itself blocks until the unit is up or the job fails, so a nil
// return means the unit reached active.
func (m *Manager) Start(ctx context.Context, unit string) error {
	log.Debug().Str("unit", unit).Msg("systemctl start")
	out, err := m.run(ctx, "systemctl", "start", unit)
	if err != nil {
		return fmt.Errorf("systemctl start %s: %w (%s)", unit, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Stop issues `systemctl stop` for the unit. Stopping a unit that is not
// running is not an error, matching systemctl's own behavior.
func (m *Manager) Stop(ctx context.Context, unit string) error {
	log.Debug().Str("unit", unit).Msg("systemctl stop")
	out, err := m.run(ctx, "systemctl", "stop", unit)
	if err != nil {
		return fmt.Errorf("systemctl stop %s: %w (%s)", unit, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Reload asks the unit to reload its configuration (SIGHUP for the plugin
// daemons, which reopen their output device without dropping the peer).
func (m *Manager) Reload(ctx context.Context, unit string) error {
	log.Debug().Str("unit", unit).Msg("systemctl reload-or-restart")
	out, err := m.run(ctx, "systemctl", "reload-or-restart", unit)
	if err != nil {
		return fmt.Errorf("systemctl reload-or-restart %s: %w (%s)", unit, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// State queries the unit's ActiveState.
func (m *Manager) State(ctx context.Context, unit string) (UnitState, error) {
	out, err := m.run(ctx, "systemctl", "show", "--property=ActiveState", "--value", unit)
	if err != nil {
		return UnitFailed, fmt.Errorf("systemctl show %s: %w", unit, err)
	}
	return ParseActiveState(string(out))
}

// ParseActiveState normalizes systemctl show output into a UnitState.
func ParseActiveState(raw string) (UnitState, error) {
	switch s := UnitState(strings.TrimSpace(raw)); s {
	case UnitActive, UnitActivating, UnitInactive, UnitDeactivating, UnitFailed:
		return s, nil
	case "reloading":
		// A reloading unit is still running.
		return UnitActive, nil
	default:
		return UnitFailed, fmt.Errorf("unexpected ActiveState %q", strings.TrimSpace(raw))
	}
}

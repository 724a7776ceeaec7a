// Package source defines the audio source model shared by the orchestration core.
package source

import "fmt"

// Source identifies one of the mutually exclusive audio inputs.
type Source string

// Known sources. None means no source is currently live.
const (
	Spotify     Source = "spotify"
	Bluetooth   Source = "bluetooth"
	MacReceiver Source = "mac_receiver"
	Radio       Source = "radio"
	None        Source = "none"
)

// All lists every real source, excluding None.
var All = []Source{Spotify, Bluetooth, MacReceiver, Radio}

// Valid reports whether s is a known source, including None.
func (s Source) Valid() bool {
	switch s {
	case Spotify, Bluetooth, MacReceiver, Radio, None:
		return true
	}
	return false
}

// Parse converts a wire string into a Source.
func Parse(raw string) (Source, error) {
	s := Source(raw)
	if !s.Valid() {
		return None, fmt.Errorf("unknown source %q", raw)
	}
	return s, nil
}

// PluginState is the lifecycle state of the currently selected source's plugin.
type PluginState string

const (
	// StateInactive means the source is not selected.
	StateInactive PluginState = "inactive"
	// StateStarting means a start was issued and readiness is pending.
	StateStarting PluginState = "starting"
	// StateReady means the process is up but no remote peer is attached.
	StateReady PluginState = "ready"
	// StateConnected means a remote peer is attached and audio may flow.
	StateConnected PluginState = "connected"
	// StateError means the start failed, crashed, or timed out.
	StateError PluginState = "error"
)

// Live reports whether the plugin is occupying the output path.
func (p PluginState) Live() bool {
	return p == StateStarting || p == StateReady || p == StateConnected
}

// OutputMode selects where the live source's audio ends up.
type OutputMode string

const (
	// ModeDirect routes straight to the local amplifier.
	ModeDirect OutputMode = "direct"
	// ModeMultiroom routes to the loopback consumed by the multiroom server.
	ModeMultiroom OutputMode = "multiroom"
)

// Valid reports whether m is a known output mode.
func (m OutputMode) Valid() bool {
	return m == ModeDirect || m == ModeMultiroom
}

// ParseMode converts a wire string into an OutputMode.
func ParseMode(raw string) (OutputMode, error) {
	m := OutputMode(raw)
	if !m.Valid() {
		return ModeDirect, fmt.Errorf("unknown output mode %q", raw)
	}
	return m, nil
}

// Metadata carries plugin-reported, source-specific playback info. The core
// merges it into the system state without interpreting it beyond display.
type Metadata struct {
	Title     string `json:"title,omitempty"`
	Artist    string `json:"artist,omitempty"`
	Station   string `json:"station,omitempty"`
	Device    string `json:"device,omitempty"` // remote peer name (phone, laptop)
	Buffering bool   `json:"buffering,omitempty"`
}

// SystemState is the canonical record of the hub. It is owned by the switch
// coordinator's goroutine: nothing else mutates it, everything else works on
// copies obtained via Clone.
type SystemState struct {
	ActiveSource     Source      `json:"active_source"`
	PluginState      PluginState `json:"plugin_state"`
	Error            string      `json:"error,omitempty"`
	Metadata         Metadata    `json:"metadata"`
	OutputMode       OutputMode  `json:"output_mode"`
	EqualizerEnabled bool        `json:"equalizer_enabled"`
	Volume           int         `json:"volume"`
}

// NewSystemState returns the boot state: no source, direct output, full volume.
func NewSystemState() SystemState {
	return SystemState{
		ActiveSource: None,
		PluginState:  StateInactive,
		OutputMode:   ModeDirect,
		Volume:       100,
	}
}

// Clone returns a copy of the state. SystemState has no reference fields, so
// a value copy is a deep copy; the method exists to keep call sites explicit
// about crossing the ownership boundary.
func (s SystemState) Clone() SystemState {
	return s
}

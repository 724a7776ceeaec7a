// Package alsa controls the local hardware mixer through amixer.
package alsa

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// percentRe matches the bracketed percentage in amixer sget output,
// e.g. "Front Left: Playback 183 [72%] [on]".
var percentRe = regexp.MustCompile(`\[(\d+)%\]`)

// CommandRunner executes an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Mixer wraps amixer for a single control on a single card.
type Mixer struct {
	card    string // e.g. "hw:0"
	control string // e.g. "Digital" or "Master"
	run     CommandRunner
}

// NewMixer creates a mixer for the given card and control name.
func NewMixer(card, control string) *Mixer {
	return &Mixer{card: card, control: control, run: execRunner}
}

// NewMixerWithRunner creates a mixer with a custom command runner for tests.
func NewMixerWithRunner(card, control string, run CommandRunner) *Mixer {
	return &Mixer{card: card, control: control, run: run}
}

// SetVolume sets the control to the given percentage (0-100).
func (m *Mixer) SetVolume(ctx context.Context, percent int) error {
	out, err := m.run(ctx, "amixer", "-D", m.card, "sset", m.control, fmt.Sprintf("%d%%", percent))
	if err != nil {
		return fmt.Errorf("amixer sset %s %d%%: %w (%s)", m.control, percent, err, strings.TrimSpace(string(out)))
	}
	log.Debug().Str("control", m.control).Int("percent", percent).Msg("Hardware mixer set")
	return nil
}

// Volume reads the control's current percentage.
func (m *Mixer) Volume(ctx context.Context) (int, error) {
	out, err := m.run(ctx, "amixer", "-D", m.card, "sget", m.control)
	if err != nil {
		return 0, fmt.Errorf("amixer sget %s: %w", m.control, err)
	}
	return ParseVolume(string(out))
}

// ParseVolume extracts the first bracketed percentage from amixer output.
func ParseVolume(out string) (int, error) {
	match := percentRe.FindStringSubmatch(out)
	if match == nil {
		return 0, fmt.Errorf("no volume percentage in amixer output")
	}
	percent, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, fmt.Errorf("bad volume %q: %w", match[1], err)
	}
	return percent, nil
}

// Package routebind publishes each plugin's resolved output device so the
// plugin process opens the right sink when it starts or reloads.
package routebind

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/miloaudio/milo/internal/domain/source"
)

// DefaultDir is where the plugin units look for their environment files.
const DefaultDir = "/etc/milo/routing"

// Binder writes one environment file per source. Each systemd unit loads its
// file via EnvironmentFile= and opens $MILO_OUTPUT_DEVICE. The file is
// written before the unit is started (or reloaded), so the process never
// races the routing decision.
type Binder struct {
	dir string
}

// NewBinder creates a binder writing into dir, creating it if needed.
func NewBinder(dir string) (*Binder, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create routing dir: %w", err)
	}
	return &Binder{dir: dir}, nil
}

// Bind records the output device for src. The write is atomic (tmp+rename)
// so a reloading plugin never reads a half-written file.
func (b *Binder) Bind(_ context.Context, src source.Source, device string) error {
	path := b.path(src)
	tmp := path + ".tmp"

	content := fmt.Sprintf("MILO_OUTPUT_DEVICE=%s\n", device)
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write routing file for %s: %w", src, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish routing file for %s: %w", src, err)
	}

	log.Debug().Str("source", string(src)).Str("device", device).Msg("Routing target bound")
	return nil
}

// Device reads back the currently bound device for src. Mostly useful for
// diagnostics; returns empty string if nothing is bound.
func (b *Binder) Device(src source.Source) string {
	data, err := os.ReadFile(b.path(src))
	if err != nil {
		return ""
	}
	line := strings.TrimSuffix(string(data), "\n")
	const prefix = "MILO_OUTPUT_DEVICE="
	if !strings.HasPrefix(line, prefix) {
		return ""
	}
	return strings.TrimPrefix(line, prefix)
}

func (b *Binder) path(src source.Source) string {
	return filepath.Join(b.dir, string(src)+".env")
}

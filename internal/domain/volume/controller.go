// Package volume applies one logical volume to whichever output backend is
// currently active.
package volume

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/miloaudio/milo/internal/domain/source"
)

// HardwareMixer is the direct-mode backend (the local ALSA mixer).
type HardwareMixer interface {
	SetVolume(ctx context.Context, percent int) error
}

// RoomGroup is the multiroom backend (the Snapcast group).
type RoomGroup interface {
	SetGroupVolume(percent int) error
}

// ModeProvider reports the current output mode. The coordinator owns the
// mode; the controller only reads it at apply time.
type ModeProvider func() source.OutputMode

// Controller holds the single logical volume (0-100). In direct mode it
// drives the hardware mixer; in multiroom mode it drives the room group so
// all rooms scale together. Callers never need to know which backend was
// used: GetVolume always returns the last accepted value.
type Controller struct {
	mixer HardwareMixer
	rooms RoomGroup
	mode  ModeProvider

	mu   sync.Mutex
	last int
}

// NewController creates a controller starting at the given volume (typically
// the persisted value from the previous run).
func NewController(mixer HardwareMixer, rooms RoomGroup, mode ModeProvider, initial int) *Controller {
	return &Controller{
		mixer: mixer,
		rooms: rooms,
		mode:  mode,
		last:  Clamp(initial),
	}
}

// Clamp bounds a requested volume to [0,100]. Out-of-range values are
// clamped, not rejected.
func Clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// SetVolume applies the clamped value to the active backend and remembers it.
func (c *Controller) SetVolume(ctx context.Context, v int) error {
	v = Clamp(v)

	mode := c.mode()
	var err error
	switch mode {
	case source.ModeMultiroom:
		err = c.rooms.SetGroupVolume(v)
	default:
		err = c.mixer.SetVolume(ctx, v)
	}
	if err != nil {
		log.Error().Err(err).Str("mode", string(mode)).Int("volume", v).Msg("Volume apply failed")
		return err
	}

	c.mu.Lock()
	c.last = v
	c.mu.Unlock()

	log.Info().Int("volume", v).Str("mode", string(mode)).Msg("Volume set")
	return nil
}

// GetVolume returns the last accepted volume, regardless of which backend
// applied it.
func (c *Controller) GetVolume() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Reapply pushes the last accepted volume to the currently active backend.
// Called after an output mode change so the new backend matches the logical
// volume.
func (c *Controller) Reapply(ctx context.Context) error {
	return c.SetVolume(ctx, c.GetVolume())
}

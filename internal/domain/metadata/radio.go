// Package metadata feeds plugin-reported playback info into the switch
// coordinator's side channel. Each source gets its own feed: the radio
// plugin plays through MPD and is watched over the MPD protocol, the
// other plugins expose a small HTTP status endpoint that is polled.
package metadata

import (
	"context"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"

	"github.com/miloaudio/milo/internal/domain/source"
	"github.com/miloaudio/milo/internal/domain/switching"
)

// UpdateFunc delivers one metadata update to the coordinator.
type UpdateFunc func(switching.MetadataUpdate)

// MPDClient is the slice of the MPD wrapper the radio watcher needs.
type MPDClient interface {
	Status() (mpd.Attrs, error)
	CurrentSong() (mpd.Attrs, error)
	Watch(subsystems ...string) (<-chan string, error)
}

// DefaultDebounceWindow coalesces MPD title rewrites. Internet streams
// often emit several player events per track change.
const DefaultDebounceWindow = 300 * time.Millisecond

// RadioWatcher follows the MPD instance the radio plugin plays through and
// reports station and now-playing info. It runs regardless of which source
// is live; the coordinator discards updates for inactive sources.
type RadioWatcher struct {
	client MPDClient
	push   UpdateFunc
	window time.Duration
}

// NewRadioWatcher builds a watcher over the given MPD client.
func NewRadioWatcher(client MPDClient, push UpdateFunc) *RadioWatcher {
	return &RadioWatcher{
		client: client,
		push:   push,
		window: DefaultDebounceWindow,
	}
}

// Run watches MPD until ctx is done. It refreshes once up front so a
// restart mid-stream picks up the current station immediately.
func (w *RadioWatcher) Run(ctx context.Context) error {
	events, err := w.client.Watch("player", "playlist")
	if err != nil {
		return err
	}

	debounce := NewDebouncer(w.window, w.refresh)
	defer debounce.Stop()

	w.refresh()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case subsystem, ok := <-events:
			if !ok {
				return nil
			}
			debounce.Trigger(subsystem)
		}
	}
}

// refresh reads the current stream info and pushes it upstream.
func (w *RadioWatcher) refresh() {
	status, err := w.client.Status()
	if err != nil {
		log.Debug().Err(err).Msg("MPD status read failed")
		return
	}
	song, err := w.client.CurrentSong()
	if err != nil {
		log.Debug().Err(err).Msg("MPD current song read failed")
		return
	}

	w.push(switching.MetadataUpdate{
		Source: source.Radio,
		Meta:   radioMeta(status, song),
	})
}

// radioMeta maps MPD attrs onto display metadata. For internet streams MPD
// reports the station in Name and the now-playing line in Title.
func radioMeta(status, song mpd.Attrs) source.Metadata {
	m := source.Metadata{
		Station: song["Name"],
		Title:   song["Title"],
		Artist:  song["Artist"],
	}

	// A playing stream with no bitrate yet is still filling its buffer.
	if status["state"] == "play" {
		if br := status["bitrate"]; br == "" || br == "0" {
			m.Buffering = true
		}
	}

	return m
}

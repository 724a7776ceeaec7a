package metadata

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"resty.dev/v3"

	"github.com/miloaudio/milo/internal/domain/source"
	"github.com/miloaudio/milo/internal/domain/switching"
)

// DefaultPollInterval is how often a plugin's status endpoint is read while
// its source is live.
const DefaultPollInterval = 3 * time.Second

// pluginStatus is the payload the spotify, bluetooth and mac receiver
// plugins serve on their status endpoints.
type pluginStatus struct {
	Connected bool   `json:"connected"`
	Device    string `json:"device,omitempty"`
	Title     string `json:"title,omitempty"`
	Artist    string `json:"artist,omitempty"`
}

// ActiveFunc reports the currently live source, so pollers stay quiet while
// their plugin is stopped.
type ActiveFunc func() source.Source

// StatusPoller polls one plugin's HTTP status endpoint and reports peer
// attachment and playback metadata. Peer attachment is what moves the
// plugin between ready and connected.
type StatusPoller struct {
	src      source.Source
	url      string
	interval time.Duration
	client   *resty.Client
	active   ActiveFunc
	push     UpdateFunc
}

// NewStatusPoller builds a poller for one source's status endpoint.
func NewStatusPoller(src source.Source, url string, active ActiveFunc, push UpdateFunc) *StatusPoller {
	client := resty.New().
		SetTimeout(2 * time.Second)

	return &StatusPoller{
		src:      src,
		url:      url,
		interval: DefaultPollInterval,
		client:   client,
		active:   active,
		push:     push,
	}
}

// Run polls until ctx is done.
func (p *StatusPoller) Run(ctx context.Context) error {
	defer p.client.Close()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if p.active() != p.src {
				continue
			}
			p.poll(ctx)
		}
	}
}

func (p *StatusPoller) poll(ctx context.Context) {
	var status pluginStatus

	res, err := p.client.R().
		SetContext(ctx).
		SetResult(&status).
		Get(p.url)
	if err != nil {
		log.Debug().Str("source", string(p.src)).Err(err).Msg("Plugin status poll failed")
		return
	}
	if !res.IsSuccess() {
		log.Debug().Str("source", string(p.src)).Str("status", res.Status()).Msg("Plugin status poll rejected")
		return
	}

	connected := status.Connected
	p.push(switching.MetadataUpdate{
		Source: p.src,
		Meta: source.Metadata{
			Title:  status.Title,
			Artist: status.Artist,
			Device: status.Device,
		},
		Peer: &connected,
	})
}

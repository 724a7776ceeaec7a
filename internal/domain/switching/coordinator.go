// Package switching contains the source switch coordinator, the state
// machine at the center of the orchestration core. One goroutine owns the
// canonical system state and consumes every request and event from a single
// ordered queue, so two overlapping switches can never both believe they won.
package switching

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/miloaudio/milo/internal/domain/plugin"
	"github.com/miloaudio/milo/internal/domain/source"
)

// Supervisor is the slice of the plugin supervisor the coordinator drives.
type Supervisor interface {
	Start(ctx context.Context, src source.Source) error
	Stop(ctx context.Context, src source.Source) error
	Reload(ctx context.Context, src source.Source) error
}

// Resolver maps (source, mode, eq) to the output device.
type Resolver interface {
	Resolve(src source.Source, mode source.OutputMode, eq bool) (string, error)
}

// DeviceBinder publishes a resolved device so the plugin opens it on start
// or reload.
type DeviceBinder interface {
	Bind(ctx context.Context, src source.Source, device string) error
}

// VolumeController is the slice of the volume controller the coordinator
// drives on volume requests and mode changes.
type VolumeController interface {
	SetVolume(ctx context.Context, v int) error
	GetVolume() int
	Reapply(ctx context.Context) error
}

// Sink receives every applied state transition, in order.
type Sink interface {
	BroadcastState(st source.SystemState)
}

// SettingsStore persists the settings that survive a reboot. Optional.
type SettingsStore interface {
	SaveOutputMode(m source.OutputMode) error
	SaveEqualizer(on bool) error
	SaveVolume(v int) error
}

// MetadataUpdate is a plugin-reported metadata change ingested through the
// side channel. Peer, when non-nil, reports whether a remote peer is
// attached and drives the ready/connected transition.
type MetadataUpdate struct {
	Source source.Source
	Meta   source.Metadata
	Peer   *bool
}

type msgKind int

const (
	msgSwitch msgKind = iota
	msgMode
	msgEqualizer
	msgVolume
	msgMetadata
)

type message struct {
	kind  msgKind
	src   source.Source
	mode  source.OutputMode
	eq    bool
	vol   int
	meta  MetadataUpdate
	reply chan error
}

// Coordinator serializes all state mutations. Construct with NewCoordinator,
// then run the loop with Run; public methods are safe from any goroutine.
type Coordinator struct {
	sup      Supervisor
	resolver Resolver
	binder   DeviceBinder
	vol      VolumeController
	sink     Sink
	store    SettingsStore

	requests chan message
	events   <-chan plugin.Event

	mu    sync.RWMutex
	state source.SystemState
}

// NewCoordinator creates a coordinator starting from initial (typically the
// boot state with persisted mode/eq/volume applied). store may be nil when
// persistence is disabled.
func NewCoordinator(
	sup Supervisor,
	resolver Resolver,
	binder DeviceBinder,
	vol VolumeController,
	sink Sink,
	store SettingsStore,
	events <-chan plugin.Event,
	initial source.SystemState,
) *Coordinator {
	return &Coordinator{
		sup:      sup,
		resolver: resolver,
		binder:   binder,
		vol:      vol,
		sink:     sink,
		store:    store,
		requests: make(chan message, 32),
		events:   events,
		state:    initial,
	}
}

// Snapshot returns a copy of the canonical state.
func (c *Coordinator) Snapshot() source.SystemState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// OutputMode returns the current output mode. Used as the volume
// controller's mode provider.
func (c *Coordinator) OutputMode() source.OutputMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.OutputMode
}

// Run processes requests and supervisor events until ctx is cancelled.
// It broadcasts the initial state once so clients connected before the first
// transition have something to render.
func (c *Coordinator) Run(ctx context.Context) {
	log.Info().Msg("Switch coordinator started")
	c.sink.BroadcastState(c.Snapshot())

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Switch coordinator stopped")
			return
		case msg := <-c.requests:
			c.dispatch(ctx, msg)
		case ev, ok := <-c.events:
			if !ok {
				log.Warn().Msg("Supervisor event channel closed")
				return
			}
			c.handlePluginEvent(ev)
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context, msg message) {
	var err error
	switch msg.kind {
	case msgSwitch:
		err = c.handleSwitch(ctx, msg.src)
	case msgMode:
		err = c.handleMode(ctx, msg.mode)
	case msgEqualizer:
		err = c.handleEqualizer(ctx, msg.eq)
	case msgVolume:
		err = c.handleVolume(ctx, msg.vol)
	case msgMetadata:
		c.handleMetadata(msg.meta)
	}
	if msg.reply != nil {
		msg.reply <- err
	}
}

func (c *Coordinator) submit(msg message) error {
	msg.reply = make(chan error, 1)
	c.requests <- msg
	return <-msg.reply
}

// SelectSource requests a switch to target. Blocks until the switch (and any
// switches queued ahead of it) completed or failed.
func (c *Coordinator) SelectSource(target source.Source) error {
	if !target.Valid() {
		return fmt.Errorf("unknown source %q", target)
	}
	return c.submit(message{kind: msgSwitch, src: target})
}

// Disconnect stops the currently active source, returning the hub to silence.
func (c *Coordinator) Disconnect() error {
	return c.submit(message{kind: msgSwitch, src: source.None})
}

// SetOutputMode switches between direct and multiroom output, re-pointing
// the live source without restarting its plugin.
func (c *Coordinator) SetOutputMode(mode source.OutputMode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown output mode %q", mode)
	}
	return c.submit(message{kind: msgMode, mode: mode})
}

// SetEqualizer toggles the equalizer routing leg.
func (c *Coordinator) SetEqualizer(on bool) error {
	return c.submit(message{kind: msgEqualizer, eq: on})
}

// SetVolume applies the logical volume through the volume controller and
// publishes the new state.
func (c *Coordinator) SetVolume(v int) error {
	return c.submit(message{kind: msgVolume, vol: v})
}

// UpdateMetadata ingests a plugin-reported metadata change. Non-blocking in
// effect: still serialized through the queue, but errors are not interesting
// to the reporter, so none are returned.
func (c *Coordinator) UpdateMetadata(u MetadataUpdate) {
	_ = c.submit(message{kind: msgMetadata, meta: u})
}

// mutate applies fn to the canonical state under the write lock and
// broadcasts the result.
func (c *Coordinator) mutate(fn func(*source.SystemState)) {
	c.mu.Lock()
	fn(&c.state)
	snapshot := c.state.Clone()
	c.mu.Unlock()

	c.sink.BroadcastState(snapshot)
}

// handleSwitch runs the full stop -> bind -> start sequence. Any failure
// converges to silence: a half-started source never keeps the output device.
func (c *Coordinator) handleSwitch(ctx context.Context, target source.Source) error {
	current := c.Snapshot().ActiveSource
	if target == current {
		log.Debug().Str("source", string(target)).Msg("Switch to already-active source, no-op")
		return nil
	}

	log.Info().Str("from", string(current)).Str("to", string(target)).Msg("Switching source")

	if current != source.None {
		if err := c.sup.Stop(ctx, current); err != nil {
			log.Error().Err(err).Str("source", string(current)).Msg("Deactivation failed")
			c.mutate(func(st *source.SystemState) {
				st.ActiveSource = source.None
				st.PluginState = source.StateError
				st.Error = fmt.Sprintf("stopping %s: %v", current, err)
				st.Metadata = source.Metadata{}
			})
			return err
		}
	}

	if target == source.None {
		c.mutate(func(st *source.SystemState) {
			st.ActiveSource = source.None
			st.PluginState = source.StateInactive
			st.Error = ""
			st.Metadata = source.Metadata{}
		})
		return nil
	}

	snap := c.Snapshot()
	device, err := c.resolver.Resolve(target, snap.OutputMode, snap.EqualizerEnabled)
	if err != nil {
		// Unreachable with a validated table; treated as activation failure.
		return c.failActivation(target, fmt.Errorf("resolve routing: %w", err))
	}
	if err := c.binder.Bind(ctx, target, device); err != nil {
		return c.failActivation(target, fmt.Errorf("bind device %s: %w", device, err))
	}

	// Publish "starting" before the (bounded, possibly slow) start so
	// connected clients watch the transition instead of a stall.
	c.mutate(func(st *source.SystemState) {
		st.ActiveSource = target
		st.PluginState = source.StateStarting
		st.Error = ""
		st.Metadata = source.Metadata{}
	})

	if err := c.sup.Start(ctx, target); err != nil {
		// Make sure nothing half-started keeps the device open.
		if stopErr := c.sup.Stop(ctx, target); stopErr != nil {
			log.Warn().Err(stopErr).Str("source", string(target)).Msg("Cleanup stop after failed start")
		}
		return c.failActivation(target, err)
	}

	c.mutate(func(st *source.SystemState) {
		st.PluginState = source.StateReady
	})
	return nil
}

func (c *Coordinator) failActivation(target source.Source, err error) error {
	log.Error().Err(err).Str("source", string(target)).Msg("Activation failed")
	c.mutate(func(st *source.SystemState) {
		st.ActiveSource = source.None
		st.PluginState = source.StateError
		st.Error = fmt.Sprintf("activating %s: %v", target, err)
		st.Metadata = source.Metadata{}
	})
	return err
}

// rebindLive re-resolves and re-points the live source after a mode or
// equalizer change. The plugin reloads its output device; the peer
// connection, and therefore plugin_state, is untouched.
func (c *Coordinator) rebindLive(ctx context.Context, st source.SystemState) error {
	if st.ActiveSource == source.None {
		return nil
	}
	device, err := c.resolver.Resolve(st.ActiveSource, st.OutputMode, st.EqualizerEnabled)
	if err != nil {
		return fmt.Errorf("resolve routing: %w", err)
	}
	if err := c.binder.Bind(ctx, st.ActiveSource, device); err != nil {
		return fmt.Errorf("bind device %s: %w", device, err)
	}
	if err := c.sup.Reload(ctx, st.ActiveSource); err != nil {
		return fmt.Errorf("reload plugin: %w", err)
	}
	log.Info().Str("source", string(st.ActiveSource)).Str("device", device).Msg("Live source re-pointed")
	return nil
}

func (c *Coordinator) handleMode(ctx context.Context, mode source.OutputMode) error {
	snap := c.Snapshot()
	if snap.OutputMode == mode {
		return nil
	}

	trial := snap.Clone()
	trial.OutputMode = mode
	if err := c.rebindLive(ctx, trial); err != nil {
		// Routing is in an unknown shape; fail safe to silence.
		active := snap.ActiveSource
		if stopErr := c.sup.Stop(ctx, active); stopErr != nil {
			log.Warn().Err(stopErr).Msg("Cleanup stop after failed re-point")
		}
		c.mutate(func(st *source.SystemState) {
			st.OutputMode = mode
			st.ActiveSource = source.None
			st.PluginState = source.StateError
			st.Error = fmt.Sprintf("re-pointing %s: %v", active, err)
			st.Metadata = source.Metadata{}
		})
		return err
	}

	c.mutate(func(st *source.SystemState) {
		st.OutputMode = mode
	})
	c.saveMode(mode)

	// The other backend now carries the audio; align it with the logical
	// volume.
	if err := c.vol.Reapply(ctx); err != nil {
		log.Warn().Err(err).Msg("Volume reapply after mode change failed")
	}
	return nil
}

func (c *Coordinator) handleEqualizer(ctx context.Context, on bool) error {
	snap := c.Snapshot()
	if snap.EqualizerEnabled == on {
		return nil
	}

	trial := snap.Clone()
	trial.EqualizerEnabled = on
	if err := c.rebindLive(ctx, trial); err != nil {
		active := snap.ActiveSource
		if stopErr := c.sup.Stop(ctx, active); stopErr != nil {
			log.Warn().Err(stopErr).Msg("Cleanup stop after failed re-point")
		}
		c.mutate(func(st *source.SystemState) {
			st.EqualizerEnabled = on
			st.ActiveSource = source.None
			st.PluginState = source.StateError
			st.Error = fmt.Sprintf("re-pointing %s: %v", active, err)
			st.Metadata = source.Metadata{}
		})
		return err
	}

	c.mutate(func(st *source.SystemState) {
		st.EqualizerEnabled = on
	})
	c.saveEqualizer(on)
	return nil
}

func (c *Coordinator) handleVolume(ctx context.Context, v int) error {
	if err := c.vol.SetVolume(ctx, v); err != nil {
		return err
	}
	applied := c.vol.GetVolume()
	c.mutate(func(st *source.SystemState) {
		st.Volume = applied
	})
	c.saveVolume(applied)
	return nil
}

func (c *Coordinator) handleMetadata(u MetadataUpdate) {
	snap := c.Snapshot()
	if u.Source != snap.ActiveSource {
		// Stale report from a source we already left.
		return
	}

	changed := false
	c.mu.Lock()
	if c.state.Metadata != u.Meta {
		c.state.Metadata = u.Meta
		changed = true
	}
	if u.Peer != nil {
		switch {
		case *u.Peer && c.state.PluginState == source.StateReady:
			c.state.PluginState = source.StateConnected
			changed = true
		case !*u.Peer && c.state.PluginState == source.StateConnected:
			c.state.PluginState = source.StateReady
			changed = true
		}
	}
	snapshot := c.state.Clone()
	c.mu.Unlock()

	if changed {
		c.sink.BroadcastState(snapshot)
	}
}

// handlePluginEvent folds an unsolicited supervisor event (a crash) into the
// current state. The coordinator never auto-retries: the error is published
// and the next explicit SwitchRequest decides what happens.
func (c *Coordinator) handlePluginEvent(ev plugin.Event) {
	snap := c.Snapshot()
	if ev.Source != snap.ActiveSource {
		log.Debug().Str("source", string(ev.Source)).Msg("Ignoring event for non-active source")
		return
	}

	log.Warn().Str("source", string(ev.Source)).Str("state", string(ev.State)).Err(ev.Err).
		Msg("Unsolicited plugin transition")

	c.mutate(func(st *source.SystemState) {
		st.PluginState = ev.State
		if ev.Err != nil {
			st.Error = ev.Err.Error()
		}
	})
}

func (c *Coordinator) saveMode(m source.OutputMode) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveOutputMode(m); err != nil {
		log.Warn().Err(err).Msg("Persisting output mode failed")
	}
}

func (c *Coordinator) saveEqualizer(on bool) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveEqualizer(on); err != nil {
		log.Warn().Err(err).Msg("Persisting equalizer flag failed")
	}
}

func (c *Coordinator) saveVolume(v int) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveVolume(v); err != nil {
		log.Warn().Err(err).Msg("Persisting volume failed")
	}
}

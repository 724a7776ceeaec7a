package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/miloaudio/milo/internal/domain/source"
	"github.com/miloaudio/milo/internal/infra/systemd"
)

// fakeUnits simulates the systemd side: per-unit states plus call counters.
type fakeUnits struct {
	mu         sync.Mutex
	states     map[string]systemd.UnitState
	startCalls map[string]int
	stopCalls  map[string]int
	startErr   error
	stateErr   error
	startDelay time.Duration
}

func newFakeUnits() *fakeUnits {
	return &fakeUnits{
		states:     make(map[string]systemd.UnitState),
		startCalls: make(map[string]int),
		stopCalls:  make(map[string]int),
	}
}

func (f *fakeUnits) setState(unit string, st systemd.UnitState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[unit] = st
}

func (f *fakeUnits) Start(ctx context.Context, unit string) error {
	if f.startDelay > 0 {
		select {
		case <-time.After(f.startDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls[unit]++
	if f.startErr != nil {
		return f.startErr
	}
	f.states[unit] = systemd.UnitActive
	return nil
}

func (f *fakeUnits) Stop(ctx context.Context, unit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls[unit]++
	f.states[unit] = systemd.UnitInactive
	return nil
}

func (f *fakeUnits) Reload(ctx context.Context, unit string) error { return nil }

func (f *fakeUnits) State(ctx context.Context, unit string) (systemd.UnitState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return systemd.UnitFailed, f.stateErr
	}
	st, ok := f.states[unit]
	if !ok {
		return systemd.UnitInactive, nil
	}
	return st, nil
}

func (f *fakeUnits) starts(unit string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls[unit]
}

func TestStartIsIdempotent(t *testing.T) {
	f := newFakeUnits()
	s := NewSupervisor(f, nil)

	if err := s.Start(context.Background(), source.Radio); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := s.Start(context.Background(), source.Radio); err != nil {
		t.Fatalf("second start: %v", err)
	}

	// The unit was already active, so only the first call reaches systemctl.
	if got := f.starts("milo-radio.service"); got != 1 {
		t.Errorf("expected 1 systemctl start, got %d", got)
	}
}

func TestStopNeverStartedSourceSucceeds(t *testing.T) {
	f := newFakeUnits()
	s := NewSupervisor(f, nil)

	if err := s.Stop(context.Background(), source.Spotify); err != nil {
		t.Fatalf("stop of never-started source: %v", err)
	}
	f.mu.Lock()
	stops := f.stopCalls["milo-spotify.service"]
	f.mu.Unlock()
	if stops != 0 {
		t.Errorf("expected 0 systemctl stops for an inactive unit, got %d", stops)
	}
}

func TestStartStopOfNoneAreNoOps(t *testing.T) {
	f := newFakeUnits()
	s := NewSupervisor(f, nil)

	if err := s.Start(context.Background(), source.None); err != nil {
		t.Errorf("Start(none): %v", err)
	}
	if err := s.Stop(context.Background(), source.None); err != nil {
		t.Errorf("Stop(none): %v", err)
	}
	if len(f.startCalls)+len(f.stopCalls) != 0 {
		t.Error("none must never touch systemd")
	}
}

func TestStartTimeoutReturnsErrTimeout(t *testing.T) {
	f := newFakeUnits()
	f.startDelay = time.Second
	s := NewSupervisor(f, nil)
	s.SetTimeout(20 * time.Millisecond)

	err := s.Start(context.Background(), source.Bluetooth)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestStartFailurePropagates(t *testing.T) {
	f := newFakeUnits()
	f.startErr = errors.New("unit entered failed state")
	s := NewSupervisor(f, nil)

	err := s.Start(context.Background(), source.Spotify)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("a plain failure must not be reported as a timeout")
	}
}

func TestStatusMapsUnitStates(t *testing.T) {
	f := newFakeUnits()
	s := NewSupervisor(f, nil)
	ctx := context.Background()

	cases := []struct {
		unit string
		st   systemd.UnitState
		want source.PluginState
	}{
		{"milo-radio.service", systemd.UnitActive, source.StateReady},
		{"milo-radio.service", systemd.UnitActivating, source.StateStarting},
		{"milo-radio.service", systemd.UnitFailed, source.StateError},
		{"milo-radio.service", systemd.UnitInactive, source.StateInactive},
	}
	for _, tc := range cases {
		f.setState(tc.unit, tc.st)
		if got := s.Status(ctx, source.Radio); got != tc.want {
			t.Errorf("Status with unit %s = %q, want %q", tc.st, got, tc.want)
		}
	}

	if got := s.Status(ctx, source.None); got != source.StateInactive {
		t.Errorf("Status(none) = %q, want inactive", got)
	}
}

func TestWatcherEmitsErrorWhenRunningUnitDies(t *testing.T) {
	f := newFakeUnits()
	s := NewSupervisor(f, nil)
	s.SetWatchInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx, source.Radio); err != nil {
		t.Fatalf("start: %v", err)
	}
	go s.Watch(ctx)

	// Kill the unit behind the supervisor's back.
	f.setState("milo-radio.service", systemd.UnitFailed)

	select {
	case ev := <-s.Events():
		if ev.Source != source.Radio {
			t.Errorf("event source = %q, want radio", ev.Source)
		}
		if ev.State != source.StateError {
			t.Errorf("event state = %q, want error", ev.State)
		}
		if ev.Err == nil {
			t.Error("crash event should carry a reason")
		}
	case <-time.After(time.Second):
		t.Fatal("watcher never reported the dead unit")
	}
}

func TestWatcherDoesNotReportIntentionalStop(t *testing.T) {
	f := newFakeUnits()
	s := NewSupervisor(f, nil)
	s.SetWatchInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx, source.Radio); err != nil {
		t.Fatalf("start: %v", err)
	}
	go s.Watch(ctx)

	if err := s.Stop(ctx, source.Radio); err != nil {
		t.Fatalf("stop: %v", err)
	}

	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event after intentional stop: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

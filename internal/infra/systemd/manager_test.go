package systemd

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeRunner records invocations and replays canned results.
type fakeRunner struct {
	calls  [][]string
	output string
	err    error
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return []byte(f.output), f.err
}

func TestParseActiveState(t *testing.T) {
	cases := []struct {
		raw     string
		want    UnitState
		wantErr bool
	}{
		{"active\n", UnitActive, false},
		{"activating", UnitActivating, false},
		{"inactive\n", UnitInactive, false},
		{"deactivating", UnitDeactivating, false},
		{"failed\n", UnitFailed, false},
		{"reloading\n", UnitActive, false},
		{"bogus", UnitFailed, true},
		{"", UnitFailed, true},
	}
	for _, tc := range cases {
		got, err := ParseActiveState(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseActiveState(%q) expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseActiveState(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Errorf("ParseActiveState(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestStartInvokesSystemctl(t *testing.T) {
	f := &fakeRunner{}
	m := NewManagerWithRunner(f.run)

	if err := m.Start(context.Background(), "milo-radio.service"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if len(f.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(f.calls))
	}
	got := strings.Join(f.calls[0], " ")
	if got != "systemctl start milo-radio.service" {
		t.Errorf("unexpected command: %s", got)
	}
}

func TestStartWrapsFailureOutput(t *testing.T) {
	f := &fakeRunner{output: "Job for milo-spotify.service failed.", err: errors.New("exit status 1")}
	m := NewManagerWithRunner(f.run)

	err := m.Start(context.Background(), "milo-spotify.service")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "milo-spotify.service") {
		t.Errorf("error should name the unit: %v", err)
	}
	if !strings.Contains(err.Error(), "Job for milo-spotify.service failed.") {
		t.Errorf("error should carry systemctl output: %v", err)
	}
}

func TestStateParsesShowOutput(t *testing.T) {
	f := &fakeRunner{output: "active\n"}
	m := NewManagerWithRunner(f.run)

	state, err := m.State(context.Background(), "milo-bluetooth.service")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state != UnitActive {
		t.Errorf("state = %q, want active", state)
	}

	got := strings.Join(f.calls[0], " ")
	if got != "systemctl show --property=ActiveState --value milo-bluetooth.service" {
		t.Errorf("unexpected command: %s", got)
	}
}

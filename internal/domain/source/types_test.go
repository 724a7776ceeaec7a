package source

import "testing"

func TestParseAcceptsEveryKnownSource(t *testing.T) {
	for _, want := range append([]Source{None}, All...) {
		got, err := Parse(string(want))
		if err != nil {
			t.Errorf("Parse(%q) returned error: %v", want, err)
		}
		if got != want {
			t.Errorf("Parse(%q) = %q", want, got)
		}
	}
}

func TestParseRejectsUnknownSource(t *testing.T) {
	if _, err := Parse("cassette"); err == nil {
		t.Error("Parse should reject an unknown source string")
	}
	// The frontend historically sent empty strings for "no selection";
	// those must not silently map to a source either.
	if _, err := Parse(""); err == nil {
		t.Error("Parse should reject the empty string")
	}
}

func TestPluginStateLive(t *testing.T) {
	live := map[PluginState]bool{
		StateInactive:  false,
		StateStarting:  true,
		StateReady:     true,
		StateConnected: true,
		StateError:     false,
	}
	for state, want := range live {
		if got := state.Live(); got != want {
			t.Errorf("%s.Live() = %v, want %v", state, got, want)
		}
	}
}

func TestParseModeRejectsUnknownMode(t *testing.T) {
	if _, err := ParseMode("surround"); err == nil {
		t.Error("ParseMode should reject an unknown mode")
	}
	for _, m := range []OutputMode{ModeDirect, ModeMultiroom} {
		if _, err := ParseMode(string(m)); err != nil {
			t.Errorf("ParseMode(%q) returned error: %v", m, err)
		}
	}
}

func TestNewSystemStateBootsToSilence(t *testing.T) {
	s := NewSystemState()
	if s.ActiveSource != None {
		t.Errorf("boot active source = %q, want none", s.ActiveSource)
	}
	if s.PluginState != StateInactive {
		t.Errorf("boot plugin state = %q, want inactive", s.PluginState)
	}
	if s.OutputMode != ModeDirect {
		t.Errorf("boot output mode = %q, want direct", s.OutputMode)
	}
}

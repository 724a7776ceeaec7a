package routing

import (
	"testing"

	"github.com/miloaudio/milo/internal/domain/source"
)

func TestResolverIsTotalOverAllCombinations(t *testing.T) {
	r, err := NewResolver()
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	seen := make(map[string]Key)
	for _, src := range source.All {
		for _, mode := range []source.OutputMode{source.ModeDirect, source.ModeMultiroom} {
			for _, eq := range []bool{false, true} {
				device, err := r.Resolve(src, mode, eq)
				if err != nil {
					t.Fatalf("Resolve(%s, %s, %v): %v", src, mode, eq, err)
				}
				if device == "" {
					t.Errorf("Resolve(%s, %s, %v) returned empty device", src, mode, eq)
				}
				if prev, dup := seen[device]; dup {
					t.Errorf("device %q mapped twice: %v and %v", device, prev, Key{src, mode, eq})
				}
				seen[device] = Key{src, mode, eq}
			}
		}
	}
	if len(seen) != 16 {
		t.Errorf("expected 16 distinct devices, got %d", len(seen))
	}
}

func TestResolverIsDeterministic(t *testing.T) {
	r, err := NewResolver()
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	a, _ := r.Resolve(source.Radio, source.ModeMultiroom, true)
	b, _ := r.Resolve(source.Radio, source.ModeMultiroom, true)
	if a != b {
		t.Errorf("Resolve not deterministic: %q vs %q", a, b)
	}
}

func TestResolverWellKnownEntries(t *testing.T) {
	// These two names are part of the installer contract (the provisioned
	// ALSA aliases) and must not drift.
	r, err := NewResolver()
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if device, _ := r.Resolve(source.Radio, source.ModeDirect, false); device != "radio_direct" {
		t.Errorf("radio/direct = %q, want radio_direct", device)
	}
	if device, _ := r.Resolve(source.Radio, source.ModeMultiroom, true); device != "radio_multiroom_eq" {
		t.Errorf("radio/multiroom/eq = %q, want radio_multiroom_eq", device)
	}
}

func TestResolverRejectsNoneSource(t *testing.T) {
	r, err := NewResolver()
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if _, err := r.Resolve(source.None, source.ModeDirect, false); err == nil {
		t.Error("Resolve(none) should fail, nothing routes when no source is live")
	}
}

func TestConstructionFailsOnIncompleteTable(t *testing.T) {
	broken := make(map[Key]string, len(defaultTable))
	for k, v := range defaultTable {
		broken[k] = v
	}
	delete(broken, Key{source.Bluetooth, source.ModeMultiroom, true})

	if _, err := newResolver(broken); err == nil {
		t.Error("newResolver should reject a table with a missing combination")
	}
}

func TestConstructionFailsOnEmptyDevice(t *testing.T) {
	broken := make(map[Key]string, len(defaultTable))
	for k, v := range defaultTable {
		broken[k] = v
	}
	broken[Key{source.Spotify, source.ModeDirect, false}] = ""

	if _, err := newResolver(broken); err == nil {
		t.Error("newResolver should reject a table with an empty device name")
	}
}

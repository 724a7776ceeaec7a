package alsa

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const amixerSgetOutput = `Simple mixer control 'Digital',0
  Capabilities: pvolume pswitch
  Playback channels: Front Left - Front Right
  Limits: Playback 0 - 207
  Mono:
  Front Left: Playback 149 [72%] [0.50dB] [on]
  Front Right: Playback 149 [72%] [0.50dB] [on]
`

func TestParseVolume(t *testing.T) {
	got, err := ParseVolume(amixerSgetOutput)
	if err != nil {
		t.Fatalf("ParseVolume: %v", err)
	}
	if got != 72 {
		t.Errorf("ParseVolume = %d, want 72", got)
	}
}

func TestParseVolumeNoPercentage(t *testing.T) {
	if _, err := ParseVolume("amixer: Unable to find simple control 'Digital',0"); err == nil {
		t.Error("expected error for output without a percentage")
	}
}

func TestSetVolumeCommandLine(t *testing.T) {
	var gotCmd []string
	run := func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotCmd = append([]string{name}, args...)
		return nil, nil
	}
	m := NewMixerWithRunner("hw:0", "Digital", run)

	if err := m.SetVolume(context.Background(), 40); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	want := "amixer -D hw:0 sset Digital 40%"
	if got := strings.Join(gotCmd, " "); got != want {
		t.Errorf("command = %q, want %q", got, want)
	}
}

func TestVolumeReadsBackPercentage(t *testing.T) {
	run := func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return []byte(amixerSgetOutput), nil
	}
	m := NewMixerWithRunner("hw:0", "Digital", run)

	got, err := m.Volume(context.Background())
	if err != nil {
		t.Fatalf("Volume: %v", err)
	}
	if got != 72 {
		t.Errorf("Volume = %d, want 72", got)
	}
}

func TestSetVolumeWrapsAmixerFailure(t *testing.T) {
	run := func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return []byte("Invalid card"), errors.New("exit status 1")
	}
	m := NewMixerWithRunner("hw:9", "Digital", run)

	err := m.SetVolume(context.Background(), 10)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "Invalid card") {
		t.Errorf("error should carry amixer output: %v", err)
	}
}

package routebind

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/miloaudio/milo/internal/domain/source"
)

func TestBindWritesEnvironmentFile(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBinder(dir)
	if err != nil {
		t.Fatalf("NewBinder: %v", err)
	}

	if err := b.Bind(context.Background(), source.Radio, "radio_direct"); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "radio.env"))
	if err != nil {
		t.Fatalf("read routing file: %v", err)
	}
	if string(data) != "MILO_OUTPUT_DEVICE=radio_direct\n" {
		t.Errorf("routing file content = %q", data)
	}
}

func TestBindOverwritesPreviousTarget(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBinder(dir)
	if err != nil {
		t.Fatalf("NewBinder: %v", err)
	}

	ctx := context.Background()
	if err := b.Bind(ctx, source.Spotify, "spotify_direct"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := b.Bind(ctx, source.Spotify, "spotify_multiroom_eq"); err != nil {
		t.Fatalf("rebind: %v", err)
	}

	if got := b.Device(source.Spotify); got != "spotify_multiroom_eq" {
		t.Errorf("Device = %q, want spotify_multiroom_eq", got)
	}
}

func TestDeviceReturnsEmptyWhenUnbound(t *testing.T) {
	b, err := NewBinder(t.TempDir())
	if err != nil {
		t.Fatalf("NewBinder: %v", err)
	}
	if got := b.Device(source.Bluetooth); got != "" {
		t.Errorf("Device for unbound source = %q, want empty", got)
	}
}

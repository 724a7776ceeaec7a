package metadata

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncerRapidPlayerEventsCollapseToOne(t *testing.T) {
	var refreshes int32

	d := NewDebouncer(50*time.Millisecond, func() { atomic.AddInt32(&refreshes, 1) })
	defer d.Stop()

	// Fire 10 rapid player events
	for i := 0; i < 10; i++ {
		d.Trigger("player")
	}

	// Wait for debounce window to elapse
	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&refreshes); got != 1 {
		t.Errorf("expected 1 refresh, got %d", got)
	}
}

func TestDebouncerSpacedEventsEachRefresh(t *testing.T) {
	var refreshes int32

	d := NewDebouncer(20*time.Millisecond, func() { atomic.AddInt32(&refreshes, 1) })
	defer d.Stop()

	d.Trigger("player")
	time.Sleep(60 * time.Millisecond)
	d.Trigger("player")
	time.Sleep(60 * time.Millisecond)

	if got := atomic.LoadInt32(&refreshes); got != 2 {
		t.Errorf("expected 2 refreshes for well-spaced events, got %d", got)
	}
}

func TestDebouncerIgnoresUnrelatedSubsystems(t *testing.T) {
	var refreshes int32

	d := NewDebouncer(20*time.Millisecond, func() { atomic.AddInt32(&refreshes, 1) })
	defer d.Stop()

	d.Trigger("mixer")
	d.Trigger("database")
	d.Trigger("options")

	time.Sleep(60 * time.Millisecond)

	if got := atomic.LoadInt32(&refreshes); got != 0 {
		t.Errorf("unrelated subsystems should not refresh, got %d", got)
	}
}

func TestDebouncerStopPreventsPendingFlush(t *testing.T) {
	var refreshes int32

	d := NewDebouncer(50*time.Millisecond, func() { atomic.AddInt32(&refreshes, 1) })

	d.Trigger("player")
	d.Stop()

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&refreshes); got != 0 {
		t.Errorf("stopped debouncer should not refresh, got %d", got)
	}
}

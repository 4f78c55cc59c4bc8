package notes

import (
	"testing"
	"time"
)

func TestCycleTimer(t *testing.T) {
	timer := NewCycleTimer(100 * time.Millisecond)

	if timer.IsActive() {
		t.Error("Timer should not be active initially")
	}

	timer.Start()
	if !timer.IsActive() {
		t.Error("Timer should be active after start")
	}
	if timer.Remaining() <= 0 {
		t.Error("Running timer should report time remaining")
	}

	timer.Stop()
	if timer.IsActive() {
		t.Error("Timer should not be active after stop")
	}
	if timer.Remaining() != 0 {
		t.Error("Stopped timer should report zero remaining")
	}
}

func TestCycleTimerExpiry(t *testing.T) {
	timer := NewCycleTimer(20 * time.Millisecond)
	timer.Start()

	select {
	case <-timer.Timeout():
	case <-time.After(time.Second):
		t.Fatal("Timer never expired")
	}

	if timer.IsActive() {
		t.Error("Timer should be inactive after expiry")
	}
}

func TestCycleTimerStopDrainsStaleTick(t *testing.T) {
	timer := NewCycleTimer(10 * time.Millisecond)
	timer.Start()

	// Let it expire without consuming the tick.
	time.Sleep(50 * time.Millisecond)

	timer.Stop()

	select {
	case <-timer.Timeout():
		t.Error("Stop should have drained the stale tick")
	default:
	}
}

func TestCycleTimerRestart(t *testing.T) {
	timer := NewCycleTimer(30 * time.Millisecond)

	timer.Start()
	timer.Start() // replaces the running countdown

	count := 0
	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case <-timer.Timeout():
			count++
		case <-deadline:
			if count != 1 {
				t.Fatalf("Restart must not leave a duplicate timer ticking, got %d ticks", count)
			}
			return
		}
	}
}

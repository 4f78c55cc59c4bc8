package notes

import (
	"sync"
	"time"
)

// CycleTimer is the cancellable countdown gating successive generation
// cycles. It is restarted only on the scheduler's defined transitions so a
// recording start/stop/switch can never leave a duplicate timer ticking.
type CycleTimer struct {
	mu          sync.Mutex
	duration    time.Duration
	timer       *time.Timer
	timeoutChan chan struct{}
	isActive    bool
	deadline    time.Time
}

// NewCycleTimer creates a stopped timer with the given full duration.
func NewCycleTimer(duration time.Duration) *CycleTimer {
	return &CycleTimer{
		duration:    duration,
		timeoutChan: make(chan struct{}, 1),
	}
}

// Start arms the timer for its full duration, replacing any running one.
func (ct *CycleTimer) Start() {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.stopLocked()
	ct.isActive = true
	ct.deadline = time.Now().Add(ct.duration)
	ct.timer = time.AfterFunc(ct.duration, func() {
		ct.mu.Lock()
		ct.isActive = false
		ct.mu.Unlock()
		select {
		case ct.timeoutChan <- struct{}{}:
		default:
		}
	})
}

// Stop disarms the timer and drains any expiry that already fired, so a
// paused countdown cannot deliver a stale tick after restart.
func (ct *CycleTimer) Stop() {
	ct.mu.Lock()
	ct.stopLocked()
	ct.mu.Unlock()

	select {
	case <-ct.timeoutChan:
	default:
	}
}

func (ct *CycleTimer) stopLocked() {
	if ct.timer != nil {
		ct.timer.Stop()
		ct.timer = nil
	}
	ct.isActive = false
}

// IsActive reports whether the countdown is running.
func (ct *CycleTimer) IsActive() bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.isActive
}

// Remaining returns the time left before expiry, or zero when stopped.
func (ct *CycleTimer) Remaining() time.Duration {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if !ct.isActive {
		return 0
	}
	left := time.Until(ct.deadline)
	if left < 0 {
		return 0
	}
	return left
}

// Timeout returns the channel that receives expiry events.
func (ct *CycleTimer) Timeout() <-chan struct{} {
	return ct.timeoutChan
}

// Duration returns the configured full duration.
func (ct *CycleTimer) Duration() time.Duration {
	return ct.duration
}

// Package stream assembles append-only token streams into a single evolving
// value. One accumulator serves many logical channels; each channel may have
// at most one live session at a time.
package stream

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyActive is returned by Begin when the channel already has a live
// session. Correct scheduler state transitions prevent this; hitting it is a
// programming error, not an expected runtime condition.
var ErrAlreadyActive = errors.New("streaming session already active on channel")

// ErrSessionFailed wraps the reason passed to Fail. Consumers receive it in
// place of partial content so truncated output is never presented as final.
var ErrSessionFailed = errors.New("streaming session failed")

// Session is the handle for one accumulation. It stays valid after
// Complete/Fail so the outcome can be re-read, but the channel slot is freed
// as soon as the session finishes.
type Session struct {
	ID        string
	Channel   string
	StartedAt time.Time

	mu        sync.Mutex
	buf       strings.Builder
	completed bool
	final     string
	err       error
}

// Accumulator tracks live sessions per channel.
type Accumulator struct {
	mu     sync.Mutex
	active map[string]*Session
}

// New creates an empty accumulator.
func New() *Accumulator {
	return &Accumulator{active: make(map[string]*Session)}
}

// Begin opens a session on the channel.
func (a *Accumulator) Begin(channel string) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.active[channel]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyActive, channel)
	}
	s := &Session{
		ID:        uuid.NewString(),
		Channel:   channel,
		StartedAt: time.Now(),
	}
	a.active[channel] = s
	return s, nil
}

// Active reports whether the channel has a live session.
func (a *Accumulator) Active(channel string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.active[channel]
	return ok
}

// Append concatenates a fragment and returns the running text so the
// consumer can render partial output.
func (a *Accumulator) Append(s *Session, fragment string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return s.final
	}
	s.buf.WriteString(fragment)
	return s.buf.String()
}

// Current returns the in-progress text without modifying the session.
func (a *Accumulator) Current(s *Session) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return s.final
	}
	return s.buf.String()
}

// Complete finishes the session and returns the final text. Calling it again
// returns the same value without re-emitting.
func (a *Accumulator) Complete(s *Session) string {
	s.mu.Lock()
	if !s.completed {
		s.completed = true
		s.final = s.buf.String()
	}
	final := s.final
	s.mu.Unlock()

	a.release(s)
	return final
}

// Fail discards the session. The partial text is dropped; Err surfaces the
// reason.
func (a *Accumulator) Fail(s *Session, reason error) {
	s.mu.Lock()
	if !s.completed {
		s.completed = true
		s.final = ""
		s.err = fmt.Errorf("%w: %v", ErrSessionFailed, reason)
	}
	s.mu.Unlock()

	a.release(s)
}

// Err returns the failure recorded by Fail, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done reports whether the session has completed or failed.
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Abort force-fails whatever session is live on the channel so no handle
// leaks when the owning channel is torn down mid-stream.
func (a *Accumulator) Abort(channel string, reason error) {
	a.mu.Lock()
	s, ok := a.active[channel]
	a.mu.Unlock()
	if !ok {
		return
	}
	a.Fail(s, reason)
}

func (a *Accumulator) release(s *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active[s.Channel] == s {
		delete(a.active, s.Channel)
	}
}

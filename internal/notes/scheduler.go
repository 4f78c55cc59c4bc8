// Package notes drives the periodic synthesis of the running meeting notes
// document from newly arrived or corrected transcript entries.
package notes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meetscribe/livenotes/internal/generator"
	"github.com/meetscribe/livenotes/internal/metrics"
	"github.com/meetscribe/livenotes/internal/store"
	"github.com/meetscribe/livenotes/internal/stream"
	"github.com/meetscribe/livenotes/internal/transcript"
)

// ErrReadOnly is returned for manual edits attempted while a generation is
// in flight.
var ErrReadOnly = errors.New("document is read-only while notes are generating")

// errStopped marks sessions aborted by recording stop.
var errStopped = errors.New("recording stopped")

// State is the scheduler's position in its per-channel state machine.
type State int

const (
	StateIdle State = iota
	StateCountdown
	StateGenerating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCountdown:
		return "countdown"
	case StateGenerating:
		return "generating"
	default:
		return "unknown"
	}
}

// Config carries the scheduler timing tunables.
type Config struct {
	// Interval is the fixed countdown between generation cycles.
	Interval time.Duration
	// InitialDelay is the one-shot delay before the first sample after a
	// recording starts, so the first update does not wait a full interval.
	InitialDelay time.Duration
}

// DefaultConfig returns the reference timings.
func DefaultConfig() Config {
	return Config{
		Interval:     20 * time.Second,
		InitialDelay: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	return c
}

// Cycle records one scheduler iteration for observability.
type Cycle struct {
	WindowStart time.Time
	WindowEnd   time.Time
	SampledIDs  []string
	StartedAt   time.Time
	FinishedAt  time.Time
	Err         error
}

// Scheduler owns the notes document of one channel. It samples the
// reconciler on a fixed countdown, feeds the sample through the generation
// service via a streaming session and persists the completed document.
//
// All cycle work happens on a single goroutine, so the countdown is truly
// paused while a generation is in flight and overlapping dispatches cannot
// occur by construction.
type Scheduler struct {
	channel string
	config  Config
	recon   *transcript.Reconciler
	gen     generator.Generator
	acc     *stream.Accumulator
	db      store.Store
	metrics *metrics.RecordingMetrics
	logger  *logrus.Entry
	timer   *CycleTimer

	mu         sync.Mutex
	state      State
	doc        string // working document, updated fragment by fragment
	persisted  string // last durably saved text
	sent       map[string]time.Time
	lastCycle  *Cycle
	lastUpdate time.Time
	cancel     context.CancelFunc
	stop       chan struct{}
	kick       chan struct{}
	done       chan struct{}
}

// NewScheduler wires a scheduler for one channel. The metrics sink may be
// nil.
func NewScheduler(channel string, config Config, recon *transcript.Reconciler,
	gen generator.Generator, acc *stream.Accumulator, db store.Store,
	m *metrics.RecordingMetrics, logger *logrus.Entry) *Scheduler {

	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	config = config.withDefaults()
	return &Scheduler{
		channel: channel,
		config:  config,
		recon:   recon,
		gen:     gen,
		acc:     acc,
		db:      db,
		metrics: m,
		logger:  logger.WithFields(logrus.Fields{"component": "scheduler", "channel": channel}),
		timer:   NewCycleTimer(config.Interval),
		state:   StateIdle,
		sent:    make(map[string]time.Time),
	}
}

// Start transitions Idle -> Countdown: loads the prior document, arms the
// countdown and schedules the delayed initial sample.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running on channel %s", s.channel)
	}
	s.state = StateCountdown
	s.sent = make(map[string]time.Time)
	s.stop = make(chan struct{})
	s.kick = make(chan struct{}, 1)
	s.done = make(chan struct{})
	stop := s.stop
	kick := s.kick
	s.mu.Unlock()

	if text, ok, err := s.db.LoadDocument(ctx, s.channel); err != nil {
		s.logger.WithError(err).Warn("Failed to load prior document, starting empty")
	} else if ok {
		s.mu.Lock()
		s.doc = text
		s.persisted = text
		s.mu.Unlock()
	}

	s.timer.Start()

	// One delayed initial sample regardless of countdown phase.
	time.AfterFunc(s.config.InitialDelay, func() {
		select {
		case <-stop:
		default:
			select {
			case kick <- struct{}{}:
			default:
			}
		}
	})

	go s.run(stop, kick)
	s.logger.WithField("interval", s.config.Interval).Info("Live notes updates started")
	return nil
}

func (s *Scheduler) run(stop, kick chan struct{}) {
	defer close(s.done)
	for {
		select {
		case <-s.timer.Timeout():
			s.runCycle(stop)
		case <-kick:
			s.runCycle(stop)
		case <-stop:
			return
		}
	}
}

// Stop transitions to Idle from any state: the countdown is cancelled, any
// in-flight generation is abandoned and its eventual completion is ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	cancel := s.cancel
	s.cancel = nil
	stop := s.stop
	done := s.done
	s.mu.Unlock()

	close(stop)
	if cancel != nil {
		cancel()
	}
	s.timer.Stop()
	<-done
	s.acc.Abort(s.channel, errStopped)
	s.logger.Info("Live notes updates stopped")
}

// runCycle performs one Countdown -> Generating -> Countdown iteration.
func (s *Scheduler) runCycle(stop chan struct{}) {
	select {
	case <-stop:
		return
	default:
	}

	// Pause the countdown: it must not keep ticking behind a generation.
	s.timer.Stop()

	now := time.Now()
	cycle := &Cycle{
		WindowStart: now.Add(-s.recon.SampleWindow()),
		WindowEnd:   now,
		StartedAt:   now,
	}

	sample, updated := s.sampleSince()
	if len(sample) == 0 {
		// Normal no-op cycle: nothing new, never contact the service.
		s.logger.Debug("No new or updated transcript entries, skipping update")
		if s.metrics != nil {
			s.metrics.AddCycle(true)
		}
		cycle.FinishedAt = time.Now()
		s.finishCycle(cycle)
		return
	}
	if s.metrics != nil {
		s.metrics.AddCycle(false)
	}

	sess, err := s.acc.Begin(s.channel)
	if err != nil {
		// Countdown pausing makes overlap impossible in correct operation;
		// reject loudly rather than queue.
		s.logger.WithError(err).Error("Streaming session already active, rejecting dispatch")
		cycle.Err = err
		cycle.FinishedAt = time.Now()
		s.finishCycle(cycle)
		return
	}

	lines := make([]string, len(sample))
	for i, u := range sample {
		lines[i] = fmt.Sprintf("%s: %s", u.Speaker, u.Text)
		cycle.SampledIDs = append(cycle.SampledIDs, u.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.state == StateIdle {
		// Stopped between sampling and dispatch.
		s.mu.Unlock()
		cancel()
		s.acc.Fail(sess, errStopped)
		return
	}
	s.state = StateGenerating
	s.cancel = cancel
	s.sent = updated
	current := s.doc
	s.mu.Unlock()

	s.logger.WithField("entries", len(sample)).Info("Dispatching notes update")

	events, err := s.gen.GenerateNotes(ctx, lines, current)
	if err != nil {
		cancel()
		s.acc.Fail(sess, err)
		s.generationFailed(cycle, err)
		return
	}

	s.consumeStream(stop, sess, events, cycle)
}

// consumeStream applies fragments to the working document until the stream
// completes, errors out, or the recording stops underneath it.
func (s *Scheduler) consumeStream(stop chan struct{}, sess *stream.Session,
	events <-chan generator.StreamEvent, cycle *Cycle) {

	for {
		select {
		case <-stop:
			// Teardown mid-generation. The partial update is discarded and
			// whatever the service eventually sends is ignored.
			s.acc.Fail(sess, errStopped)
			s.restoreDocument()
			return

		case ev, ok := <-events:
			if !ok {
				s.acc.Fail(sess, io.ErrUnexpectedEOF)
				s.generationFailed(cycle, io.ErrUnexpectedEOF)
				return
			}
			switch ev.Kind {
			case generator.EventToken:
				text := s.acc.Append(sess, ev.Token)
				s.mu.Lock()
				s.doc = text
				s.mu.Unlock()
				if s.metrics != nil {
					s.metrics.AddFragment()
				}
				if ev.Done {
					s.generationDone(sess, cycle)
					return
				}

			case generator.EventComplete:
				s.generationDone(sess, cycle)
				return

			case generator.EventError:
				s.acc.Fail(sess, ev.Err)
				s.generationFailed(cycle, ev.Err)
				return

			case generator.EventStart, generator.EventInfo:
				// Progress chatter only.
			}
		}
	}
}

func (s *Scheduler) generationDone(sess *stream.Session, cycle *Cycle) {
	s.mu.Lock()
	stopped := s.state == StateIdle
	s.mu.Unlock()
	if stopped {
		// Completion raced with Stop; discard it.
		s.acc.Fail(sess, errStopped)
		s.restoreDocument()
		return
	}

	final := s.acc.Complete(sess)

	ctx, cancelSave := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelSave()
	if err := s.db.SaveDocument(ctx, s.channel, final); err != nil {
		s.logger.WithError(err).Warn("Failed to persist notes document")
	}

	s.mu.Lock()
	s.doc = final
	s.persisted = final
	s.lastUpdate = time.Now()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.MarkUpdate()
	}
	cycle.FinishedAt = time.Now()
	s.finishCycle(cycle)
	s.logger.WithField("bytes", len(final)).Info("Notes document updated")
}

func (s *Scheduler) generationFailed(cycle *Cycle, err error) {
	// The update failed; keep the last persisted document and retry on the
	// next cycle. Recording and manual edits stay available.
	s.restoreDocument()
	if s.metrics != nil {
		s.metrics.AddGenerationFailure()
	}
	cycle.Err = err
	cycle.FinishedAt = time.Now()
	s.finishCycle(cycle)
	s.logger.WithError(err).Warn("Notes update failed, will retry next cycle")
}

// finishCycle records the cycle and restarts the countdown from its full
// value, unless the scheduler was stopped meanwhile.
func (s *Scheduler) finishCycle(cycle *Cycle) {
	s.mu.Lock()
	s.lastCycle = cycle
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	stopped := s.state == StateIdle
	if !stopped {
		s.state = StateCountdown
	}
	s.mu.Unlock()

	if !stopped {
		s.timer.Start()
	}
}

func (s *Scheduler) restoreDocument() {
	s.mu.Lock()
	s.doc = s.persisted
	s.mu.Unlock()
}

func (s *Scheduler) sampleSince() ([]transcript.Utterance, map[string]time.Time) {
	s.mu.Lock()
	sent := s.sent
	s.mu.Unlock()
	return s.recon.SampleSince(sent)
}

// SetDocument applies a manual edit. Edits are rejected while a generation
// is rewriting the document.
func (s *Scheduler) SetDocument(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.state == StateGenerating {
		s.mu.Unlock()
		return ErrReadOnly
	}
	s.doc = text
	s.persisted = text
	s.mu.Unlock()

	return s.db.SaveDocument(ctx, s.channel, text)
}

// Document returns the current working document text.
func (s *Scheduler) Document() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// State returns the scheduler's current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastCycle returns the most recent completed cycle, or nil.
func (s *Scheduler) LastCycle() *Cycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCycle
}

// LastUpdate returns when a generation last completed successfully.
func (s *Scheduler) LastUpdate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdate
}

// CountdownRemaining returns the time until the next cycle, zero while
// generating or idle.
func (s *Scheduler) CountdownRemaining() time.Duration {
	return s.timer.Remaining()
}

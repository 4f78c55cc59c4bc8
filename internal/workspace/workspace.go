// Package workspace ties one meeting's moving parts together: the caption
// event feed, the reconciled transcript, the notes scheduler and the chat
// assistant, all keyed by a channel name.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meetscribe/livenotes/internal/chat"
	"github.com/meetscribe/livenotes/internal/generator"
	"github.com/meetscribe/livenotes/internal/metrics"
	"github.com/meetscribe/livenotes/internal/notes"
	"github.com/meetscribe/livenotes/internal/store"
	"github.com/meetscribe/livenotes/internal/stream"
	"github.com/meetscribe/livenotes/internal/transcript"
)

// ErrClosed is returned for operations on a closed channel.
var ErrClosed = errors.New("workspace channel closed")

const defaultEventBuffer = 256

// Config carries the per-channel tunables.
type Config struct {
	Reconcile     transcript.Config
	Notes         notes.Config
	SessionLogDir string
	SystemPrompt  string
	EventBuffer   int
}

// Channel is one meeting workspace. Caption events flow in through HandleRaw
// and are consumed by a single goroutine, so reconciliation is strictly
// ordered by arrival.
type Channel struct {
	name      string
	config    Config
	recon     *transcript.Reconciler
	acc       *stream.Accumulator
	assistant *chat.Assistant
	gen       generator.Generator
	db        store.Store
	logger    *logrus.Entry

	events chan transcript.RawMessage
	done   chan struct{}
	wg     sync.WaitGroup

	mu            sync.Mutex
	closed        bool
	recording     bool
	connected     bool
	lastKeepalive time.Time
	sched         *notes.Scheduler
	session       *metrics.RecordingMetrics
	slog          *SessionLogger
}

// NewChannel creates a workspace channel and starts its event consumer.
func NewChannel(name string, config Config, gen generator.Generator,
	db store.Store, logger *logrus.Entry) *Channel {

	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaultEventBuffer
	}
	entry := logger.WithFields(logrus.Fields{"component": "workspace", "channel": name})

	c := &Channel{
		name:      name,
		config:    config,
		recon:     transcript.NewReconciler(config.Reconcile, entry),
		acc:       stream.New(),
		assistant: chat.NewAssistant(name, config.SystemPrompt, gen, db, entry),
		gen:       gen,
		db:        db,
		logger:    entry,
		events:    make(chan transcript.RawMessage, config.EventBuffer),
		done:      make(chan struct{}),
	}
	c.wg.Add(1)
	go c.consume()
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// HandleRaw enqueues one wire message from the capture source. The feed is
// lossy under sustained overload rather than backpressuring the socket.
func (c *Channel) HandleRaw(raw transcript.RawMessage) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	select {
	case c.events <- raw:
		return nil
	default:
		c.logger.Warn("Event buffer full, dropping caption event")
		return nil
	}
}

// HandleStatus records a capture source connect or disconnect.
func (c *Channel) HandleStatus(connected bool, message string) {
	c.handleEvent(transcript.Event{
		Kind:      transcript.KindConnectionStatus,
		Connected: connected,
		Message:   message,
		Timestamp: time.Now(),
	})
}

func (c *Channel) consume() {
	defer c.wg.Done()
	for {
		select {
		case raw := <-c.events:
			c.process(raw)
		case <-c.done:
			return
		}
	}
}

func (c *Channel) process(raw transcript.RawMessage) {
	ev, err := transcript.Normalize(raw)
	if err != nil {
		c.logger.WithError(err).Warn("Dropping malformed caption event")
		c.withSession(func(m *metrics.RecordingMetrics) { m.AddMalformedEvent() })
		return
	}
	c.handleEvent(ev)
}

func (c *Channel) handleEvent(ev transcript.Event) {
	switch ev.Kind {
	case transcript.KindKeepalive:
		c.mu.Lock()
		c.lastKeepalive = time.Now()
		c.mu.Unlock()

	case transcript.KindConnectionStatus:
		c.mu.Lock()
		c.connected = ev.Connected
		slog := c.slog
		c.mu.Unlock()

		c.logger.WithFields(logrus.Fields{"connected": ev.Connected, "message": ev.Message}).
			Info("Capture source status changed")
		if slog != nil {
			slog.LogStatus(c.name, ev.Connected, ev.Message)
		}

	case transcript.KindNewUtterance, transcript.KindCorrection:
		c.ingest(ev)
	}
}

func (c *Channel) ingest(ev transcript.Event) {
	res := c.recon.Ingest(ev)

	c.mu.Lock()
	slog := c.slog
	c.mu.Unlock()

	switch res.Outcome {
	case transcript.OutcomeCreated, transcript.OutcomeUpdated:
		c.withSession(func(m *metrics.RecordingMetrics) {
			m.AddIngest(res.Outcome == transcript.OutcomeCreated, res.Outcome == transcript.OutcomeUpdated)
		})
		if slog != nil {
			if res.Outcome == transcript.OutcomeCreated {
				slog.LogUtterance(c.name, res.Utterance.ID, res.Utterance.Speaker, res.Utterance.Text)
			} else {
				slog.LogCorrection(c.name, res.Utterance.ID, res.Utterance.Speaker, res.Utterance.Text)
			}
		}
		c.persist(*res.Utterance)

	case transcript.OutcomeDropped:
		if res.Reason == "unknown speaker" {
			c.withSession(func(m *metrics.RecordingMetrics) { m.AddUnknownSpeakerDrop() })
		} else {
			c.withSession(func(m *metrics.RecordingMetrics) { m.AddIngest(false, false) })
		}
		if slog != nil {
			slog.LogDrop(c.name, ev.Speaker, ev.Text, res.Reason)
		}
	}
}

func (c *Channel) persist(u transcript.Utterance) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := store.TranscriptRecord{
		ID:           u.ID,
		Channel:      c.name,
		Speaker:      u.Speaker,
		Text:         u.Text,
		System:       u.System,
		UpdateCount:  u.UpdateCount,
		Timestamp:    u.Timestamp,
		LastModified: u.LastModified,
	}
	if err := c.db.AppendTranscriptRecord(ctx, rec); err != nil {
		c.logger.WithError(err).Warn("Failed to persist transcript record")
	}
}

func (c *Channel) withSession(fn func(*metrics.RecordingMetrics)) {
	c.mu.Lock()
	m := c.session
	c.mu.Unlock()
	if m != nil {
		fn(m)
	}
}

// StartRecording begins a recording session: fresh metrics, a session log
// and a notes scheduler in its initial countdown.
func (c *Channel) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.recording {
		c.mu.Unlock()
		return fmt.Errorf("recording already in progress on channel %s", c.name)
	}
	started := time.Now()
	c.session = metrics.NewRecordingMetrics(c.name)

	slog, err := NewSessionLogger(c.config.SessionLogDir, c.name, started)
	if err != nil {
		c.logger.WithError(err).Warn("Session log unavailable for this recording")
		slog = nil
	}
	c.slog = slog

	sched := notes.NewScheduler(c.name, c.config.Notes, c.recon, c.gen,
		c.acc, c.db, c.session, c.logger)
	c.sched = sched
	c.recording = true
	c.mu.Unlock()

	if err := sched.Start(ctx); err != nil {
		c.mu.Lock()
		c.recording = false
		c.sched = nil
		c.session = nil
		if c.slog != nil {
			c.slog.Close()
			c.slog = nil
		}
		c.mu.Unlock()
		return err
	}

	if slog != nil {
		slog.LogRecordingStart(c.name, started)
	}
	c.logger.Info("Recording started")
	return nil
}

// StopRecording ends the recording session. Any in-flight generation is
// abandoned; the transcript itself is kept so a later recording on the same
// channel continues the meeting.
func (c *Channel) StopRecording() {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return
	}
	c.recording = false
	sched := c.sched
	session := c.session
	slog := c.slog
	c.sched = nil
	c.session = nil
	c.slog = nil
	c.mu.Unlock()

	sched.Stop()
	session.Finalize()
	summary := session.Summary()
	c.logger.WithField("summary", "\n"+summary).Info("Recording stopped")

	if slog != nil {
		slog.LogRecordingStop(c.name, time.Now(), summary)
		slog.Close()
	}
}

// Recording reports whether a recording session is active.
func (c *Channel) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// Connected reports the capture source connection state.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// LastKeepalive returns the arrival time of the most recent keepalive.
func (c *Channel) LastKeepalive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastKeepalive
}

// Transcript returns the reconciled transcript in order.
func (c *Channel) Transcript() []transcript.Utterance {
	return c.recon.Snapshot()
}

// Document returns the current notes document: the scheduler's working copy
// while recording, the persisted copy otherwise.
func (c *Channel) Document(ctx context.Context) (string, error) {
	c.mu.Lock()
	sched := c.sched
	c.mu.Unlock()

	if sched != nil {
		return sched.Document(), nil
	}
	text, _, err := c.db.LoadDocument(ctx, c.name)
	return text, err
}

// SetDocument applies a manual edit. Rejected with notes.ErrReadOnly while a
// generation is rewriting the document.
func (c *Channel) SetDocument(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	sched := c.sched
	slog := c.slog
	c.mu.Unlock()

	var err error
	if sched != nil {
		err = sched.SetDocument(ctx, text)
	} else {
		err = c.db.SaveDocument(ctx, c.name, text)
	}
	if err != nil {
		return err
	}
	if slog != nil {
		slog.LogManualEdit(c.name, len(text))
	}
	return nil
}

// Assistant returns the channel's chat assistant.
func (c *Channel) Assistant() *chat.Assistant {
	return c.assistant
}

// SessionMetrics returns the live recording metrics, or nil when idle.
func (c *Channel) SessionMetrics() *metrics.RecordingMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Close stops any recording and shuts down the event consumer. The channel
// cannot be reused afterwards.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.StopRecording()
	close(c.done)
	c.wg.Wait()
	c.recon.Reset()
	c.logger.Info("Workspace channel closed")
}

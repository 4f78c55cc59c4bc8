package metrics

import (
	"fmt"
	"sync"
	"time"
)

// RecordingMetrics accumulates counters for one recording session of a
// workspace channel.
type RecordingMetrics struct {
	Channel   string
	StartTime time.Time
	EndTime   time.Time

	UtterancesCreated    int
	CorrectionsApplied   int
	DuplicatesSuppressed int
	UnknownSpeakerDrops  int
	MalformedEvents      int

	CyclesRun          int
	NoopCycles         int
	FragmentCount      int
	GenerationFailures int
	FirstUpdateTime    *time.Time

	mu sync.Mutex
}

// NewRecordingMetrics starts a metrics window for the channel.
func NewRecordingMetrics(channel string) *RecordingMetrics {
	return &RecordingMetrics{
		Channel:   channel,
		StartTime: time.Now(),
	}
}

// AddIngest records the outcome of one reconciled event.
func (m *RecordingMetrics) AddIngest(created, updated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case created:
		m.UtterancesCreated++
	case updated:
		m.CorrectionsApplied++
	default:
		m.DuplicatesSuppressed++
	}
}

// AddUnknownSpeakerDrop counts an utterance suppressed for missing
// attribution.
func (m *RecordingMetrics) AddUnknownSpeakerDrop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UnknownSpeakerDrops++
}

// AddMalformedEvent counts a rejected payload.
func (m *RecordingMetrics) AddMalformedEvent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MalformedEvents++
}

// AddCycle records one scheduler cycle. A no-op cycle sampled nothing and
// never contacted the generation service.
func (m *RecordingMetrics) AddCycle(noop bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CyclesRun++
	if noop {
		m.NoopCycles++
	}
}

// AddFragment counts one streamed token.
func (m *RecordingMetrics) AddFragment() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FragmentCount++
}

// AddGenerationFailure counts one aborted cycle.
func (m *RecordingMetrics) AddGenerationFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerationFailures++
}

// MarkUpdate records the completion time of the first successful document
// update.
func (m *RecordingMetrics) MarkUpdate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FirstUpdateTime == nil {
		now := time.Now()
		m.FirstUpdateTime = &now
	}
}

// Finalize closes the metrics window.
func (m *RecordingMetrics) Finalize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EndTime = time.Now()
}

// Summary renders a human-readable report of the recording session.
func (m *RecordingMetrics) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	duration := m.EndTime.Sub(m.StartTime)
	var firstUpdate time.Duration
	if m.FirstUpdateTime != nil {
		firstUpdate = m.FirstUpdateTime.Sub(m.StartTime)
	}

	return fmt.Sprintf(
		"Channel: %s\n"+
			"Duration: %v\n"+
			"Utterances Created: %d\n"+
			"Corrections Applied: %d\n"+
			"Duplicates Suppressed: %d\n"+
			"Unknown-Speaker Drops: %d\n"+
			"Malformed Events: %d\n"+
			"Cycles Run: %d (no-op: %d)\n"+
			"Fragments Streamed: %d\n"+
			"Generation Failures: %d\n"+
			"First Update Latency: %v\n",
		m.Channel,
		duration,
		m.UtterancesCreated,
		m.CorrectionsApplied,
		m.DuplicatesSuppressed,
		m.UnknownSpeakerDrops,
		m.MalformedEvents,
		m.CyclesRun,
		m.NoopCycles,
		m.FragmentCount,
		m.GenerationFailures,
		firstUpdate,
	)
}

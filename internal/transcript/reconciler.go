package transcript

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Utterance is one reconciled transcript entry. Instances handed out by
// Snapshot and SampleSince are copies; the reconciler owns the live ones.
type Utterance struct {
	ID           string
	Speaker      string
	Text         string
	Timestamp    time.Time // source-reported event time, not insertion time
	System       bool
	UpdateCount  int
	LastModified time.Time
}

// Outcome describes what Ingest did with an event.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeUpdated
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// IngestResult reports the effect of a single event.
type IngestResult struct {
	Outcome   Outcome
	Utterance *Utterance // copy of the affected entry; nil when dropped
	Reason    string     // drop reason, for logging
}

// Config carries the reconciliation tunables. The defaults mirror the
// capture source's observed behavior and are not load-bearing beyond
// "approximate same-second coincidence".
type Config struct {
	// RecentWindow is how many trailing entries the pre-insert duplicate
	// check inspects.
	RecentWindow int
	// DuplicateTolerance is the maximum timestamp distance for two events
	// to count as the same caption.
	DuplicateTolerance time.Duration
	// DedupBucket is the rounding granularity for the global post-mutation
	// collapse.
	DedupBucket time.Duration
	// SampleWindow bounds how far back SampleSince looks.
	SampleWindow time.Duration
}

// DefaultConfig returns the reference tunables.
func DefaultConfig() Config {
	return Config{
		RecentWindow:       5,
		DuplicateTolerance: time.Second,
		DedupBucket:        time.Second,
		SampleWindow:       time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RecentWindow <= 0 {
		c.RecentWindow = d.RecentWindow
	}
	if c.DuplicateTolerance <= 0 {
		c.DuplicateTolerance = d.DuplicateTolerance
	}
	if c.DedupBucket <= 0 {
		c.DedupBucket = d.DedupBucket
	}
	if c.SampleWindow <= 0 {
		c.SampleWindow = d.SampleWindow
	}
	return c
}

// Reconciler consumes normalized caption events and maintains the single
// ordered transcript for one workspace. It is safe for the scheduler to
// sample concurrently with ingestion.
type Reconciler struct {
	mu      sync.Mutex
	entries []*Utterance
	config  Config
	logger  *logrus.Entry
	now     func() time.Time // test seam
}

// NewReconciler creates a reconciler with the given tunables.
func NewReconciler(config Config, logger *logrus.Entry) *Reconciler {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reconciler{
		config: config.withDefaults(),
		logger: logger.WithField("component", "reconciler"),
		now:    time.Now,
	}
}

// Ingest applies one normalized event to the transcript.
func (r *Reconciler) Ingest(ev Event) IngestResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case KindNewUtterance:
		return r.ingestNew(ev)
	case KindCorrection:
		return r.ingestCorrection(ev)
	default:
		return IngestResult{Outcome: OutcomeDropped, Reason: "not a transcript event"}
	}
}

func (r *Reconciler) ingestNew(ev Event) IngestResult {
	if ev.System {
		return r.appendSystem(ev)
	}

	// Rule 1: unknown-speaker noise never creates transcript entries.
	if IsUnknownSpeaker(ev.Speaker) {
		r.logger.WithField("text", ev.Text).Debug("Dropping utterance with unknown speaker")
		return IngestResult{Outcome: OutcomeDropped, Reason: "unknown speaker"}
	}

	// Rule 2: recent-window duplicate suppression.
	if r.isRecentDuplicate(ev) {
		r.logger.WithFields(logrus.Fields{"speaker": ev.Speaker, "text": ev.Text}).
			Debug("Dropping duplicate utterance")
		return IngestResult{Outcome: OutcomeDropped, Reason: "duplicate"}
	}

	u := &Utterance{
		ID:           uuid.NewString(),
		Speaker:      ev.Speaker,
		Text:         ev.Text,
		Timestamp:    ev.Timestamp,
		UpdateCount:  0,
		LastModified: r.now(),
	}
	r.entries = append(r.entries, u)

	// Rule 3: collapse anything the recent-window check could not see.
	r.collapseDuplicates()

	return IngestResult{Outcome: OutcomeCreated, Utterance: copyOf(u)}
}

func (r *Reconciler) ingestCorrection(ev Event) IngestResult {
	// Rule 4: most-recent-first scan for the entry being revised. Rapid
	// successive corrections must land on the latest version, so the scan
	// order is a correctness property, not an optimization.
	for i := len(r.entries) - 1; i >= 0; i-- {
		u := r.entries[i]
		if u.System || u.Text != ev.OldText {
			continue
		}
		if !speakersCompatible(u.Speaker, ev.Speaker) {
			continue
		}

		u.Text = ev.Text
		// Never regress a known attribution to unknown.
		if IsUnknownSpeaker(u.Speaker) && !IsUnknownSpeaker(ev.Speaker) {
			u.Speaker = ev.Speaker
		}
		u.UpdateCount++
		u.LastModified = r.now()

		r.collapseDuplicates()
		return IngestResult{Outcome: OutcomeUpdated, Utterance: copyOf(u)}
	}

	// No match: the original never made it into the transcript (or was
	// collapsed away). Treat the corrected fields as a fresh utterance.
	fresh := ev
	fresh.Kind = KindNewUtterance
	fresh.OldText = ""
	return r.ingestNew(fresh)
}

// appendSystem handles rule 5: session notices bypass dedup and correction
// matching entirely and are kept in timestamp order.
func (r *Reconciler) appendSystem(ev Event) IngestResult {
	u := &Utterance{
		ID:           uuid.NewString(),
		Speaker:      ev.Speaker,
		Text:         ev.Text,
		Timestamp:    ev.Timestamp,
		System:       true,
		LastModified: r.now(),
	}
	r.entries = append(r.entries, u)
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].Timestamp.Before(r.entries[j].Timestamp)
	})
	return IngestResult{Outcome: OutcomeCreated, Utterance: copyOf(u)}
}

func (r *Reconciler) isRecentDuplicate(ev Event) bool {
	start := len(r.entries) - r.config.RecentWindow
	if start < 0 {
		start = 0
	}
	for _, u := range r.entries[start:] {
		if u.System {
			continue
		}
		if u.Speaker == ev.Speaker && u.Text == ev.Text &&
			absDuration(u.Timestamp.Sub(ev.Timestamp)) <= r.config.DuplicateTolerance {
			return true
		}
	}
	return false
}

// collapseDuplicates re-scans the whole transcript and keeps only the first
// occurrence of each (speaker, text, time bucket) triple. Corrections that
// arrive out of order with their originals would otherwise leave orphaned
// duplicates behind.
func (r *Reconciler) collapseDuplicates() {
	type key struct {
		speaker string
		text    string
		bucket  int64
	}
	seen := make(map[key]bool, len(r.entries))
	kept := r.entries[:0]
	for _, u := range r.entries {
		if u.System {
			kept = append(kept, u)
			continue
		}
		k := key{u.Speaker, u.Text, u.Timestamp.Truncate(r.config.DedupBucket).Unix()}
		if seen[k] {
			continue
		}
		seen[k] = true
		kept = append(kept, u)
	}
	// Zero the tail so dropped entries do not pin memory.
	for i := len(kept); i < len(r.entries); i++ {
		r.entries[i] = nil
	}
	r.entries = kept
}

// Snapshot returns read-only copies of the transcript in order.
func (r *Reconciler) Snapshot() []Utterance {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Utterance, len(r.entries))
	for i, u := range r.entries {
		out[i] = *u
	}
	return out
}

// SampleWindow returns the configured lookback used by SampleSince.
func (r *Reconciler) SampleWindow() time.Duration {
	return r.config.SampleWindow
}

// Len returns the number of transcript entries.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// SampleSince returns, in transcript order, the entries within the sample
// window that were never sent or have been modified since they were last
// sent, together with the updated sent map. The input map is not mutated.
func (r *Reconciler) SampleSince(sent map[string]time.Time) ([]Utterance, map[string]time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	updated := make(map[string]time.Time, len(sent)+len(r.entries))
	for id, ts := range sent {
		updated[id] = ts
	}

	cutoff := r.now().Add(-r.config.SampleWindow)
	var sample []Utterance
	for _, u := range r.entries {
		if u.Timestamp.Before(cutoff) {
			continue
		}
		prev, ok := sent[u.ID]
		if ok && !u.LastModified.After(prev) {
			continue
		}
		sample = append(sample, *u)
		updated[u.ID] = u.LastModified
	}
	return sample, updated
}

// Reset discards the whole transcript. Used on workspace teardown only;
// individual utterances are never deleted.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// speakersCompatible reports whether a correction's speaker may revise an
// existing entry: exact match, or either side unattributed.
func speakersCompatible(existing, incoming string) bool {
	if IsUnknownSpeaker(existing) || IsUnknownSpeaker(incoming) {
		return true
	}
	return existing == incoming
}

func copyOf(u *Utterance) *Utterance {
	c := *u
	return &c
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

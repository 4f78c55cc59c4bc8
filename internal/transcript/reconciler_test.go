package transcript

import (
	"testing"
	"time"
)

func newUtterance(speaker, text string, ts time.Time) Event {
	return Event{Kind: KindNewUtterance, Speaker: speaker, Text: text, Timestamp: ts}
}

func newCorrection(speaker, oldText, text string, ts time.Time) Event {
	return Event{Kind: KindCorrection, Speaker: speaker, Text: text, OldText: oldText, Timestamp: ts}
}

func newSystem(text string, ts time.Time) Event {
	return Event{Kind: KindNewUtterance, Speaker: "System", Text: text, Timestamp: ts, System: true}
}

func TestIngestCreatesUtterance(t *testing.T) {
	r := NewReconciler(DefaultConfig(), nil)
	res := r.Ingest(newUtterance("Jane", "hello", time.Now()))

	if res.Outcome != OutcomeCreated {
		t.Fatalf("Expected created, got %s (%s)", res.Outcome, res.Reason)
	}
	if res.Utterance.ID == "" {
		t.Error("Created utterance should have an id")
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", r.Len())
	}
}

func TestDuplicateSuppressionIsIdempotent(t *testing.T) {
	r := NewReconciler(DefaultConfig(), nil)
	base := time.Now()

	first := r.Ingest(newUtterance("Jane", "hello", base))
	if first.Outcome != OutcomeCreated {
		t.Fatalf("First ingest should create, got %s", first.Outcome)
	}

	// The capture source double-fires; every replay within tolerance is
	// suppressed.
	for i := 0; i < 4; i++ {
		res := r.Ingest(newUtterance("Jane", "hello", base.Add(500*time.Millisecond)))
		if res.Outcome != OutcomeDropped || res.Reason != "duplicate" {
			t.Fatalf("Replay %d should be dropped as duplicate, got %s (%s)", i, res.Outcome, res.Reason)
		}
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 entry after replays, got %d", r.Len())
	}
}

func TestDuplicateOutsideToleranceKept(t *testing.T) {
	r := NewReconciler(DefaultConfig(), nil)
	base := time.Now().Truncate(time.Second)

	r.Ingest(newUtterance("Jane", "okay", base))
	res := r.Ingest(newUtterance("Jane", "okay", base.Add(5*time.Second)))

	if res.Outcome != OutcomeCreated {
		t.Fatalf("Repeated phrase seconds later is a real utterance, got %s", res.Outcome)
	}
	if r.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", r.Len())
	}
}

func TestDifferentSpeakersNotDeduplicated(t *testing.T) {
	r := NewReconciler(DefaultConfig(), nil)
	base := time.Now()

	r.Ingest(newUtterance("Jane", "agreed", base))
	res := r.Ingest(newUtterance("Bob", "agreed", base))

	if res.Outcome != OutcomeCreated {
		t.Fatalf("Same text from a different speaker should be kept, got %s", res.Outcome)
	}
}

func TestCorrectionUpdatesMostRecent(t *testing.T) {
	r := NewReconciler(DefaultConfig(), nil)
	base := time.Now().Truncate(time.Second)

	r.Ingest(newUtterance("Jane", "the draft", base))
	second := r.Ingest(newUtterance("Jane", "the draft", base.Add(10*time.Second)))

	res := r.Ingest(newCorrection("Jane", "the draft", "the draft proposal", base.Add(11*time.Second)))
	if res.Outcome != OutcomeUpdated {
		t.Fatalf("Expected updated, got %s (%s)", res.Outcome, res.Reason)
	}
	if res.Utterance.ID != second.Utterance.ID {
		t.Error("Correction should land on the most recent matching entry")
	}
	if res.Utterance.UpdateCount != 1 {
		t.Errorf("Expected update count 1, got %d", res.Utterance.UpdateCount)
	}

	// The older entry keeps its original text.
	snap := r.Snapshot()
	if snap[0].Text != "the draft" {
		t.Errorf("Older entry should be untouched, got %q", snap[0].Text)
	}
	if snap[1].Text != "the draft proposal" {
		t.Errorf("Newest entry should carry the correction, got %q", snap[1].Text)
	}
}

func TestRapidSuccessiveCorrections(t *testing.T) {
	r := NewReconciler(DefaultConfig(), nil)
	base := time.Now()

	r.Ingest(newUtterance("Jane", "Hi evryone", base))
	r.Ingest(newCorrection("Jane", "Hi evryone", "Hi everyone", base.Add(time.Second)))
	res := r.Ingest(newCorrection("Jane", "Hi everyone", "Hi everyone, welcome", base.Add(2*time.Second)))

	if res.Outcome != OutcomeUpdated {
		t.Fatalf("Chained correction should match the revised text, got %s", res.Outcome)
	}
	if res.Utterance.UpdateCount != 2 {
		t.Errorf("Expected update count 2, got %d", res.Utterance.UpdateCount)
	}
	if r.Len() != 1 {
		t.Errorf("Corrections must never add entries, got %d", r.Len())
	}
}

func TestCorrectionNeverRegressesSpeaker(t *testing.T) {
	r := NewReconciler(DefaultConfig(), nil)
	base := time.Now()

	r.Ingest(newUtterance("Jane", "hello", base))
	res := r.Ingest(newCorrection("Unknown", "hello", "hello there", base.Add(time.Second)))

	if res.Outcome != OutcomeUpdated {
		t.Fatalf("Unattributed correction should still match, got %s", res.Outcome)
	}
	if res.Utterance.Speaker != "Jane" {
		t.Errorf("Known attribution must survive the correction, got %q", res.Utterance.Speaker)
	}
	if res.Utterance.Text != "hello there" {
		t.Errorf("Text should be revised, got %q", res.Utterance.Text)
	}
}

func TestCorrectionSpeakerMismatchSkipped(t *testing.T) {
	r := NewReconciler(DefaultConfig(), nil)
	base := time.Now().Truncate(time.Second)

	r.Ingest(newUtterance("Jane", "hello", base))
	res := r.Ingest(newCorrection("Bob", "hello", "hello all", base.Add(10*time.Second)))

	if res.Outcome != OutcomeCreated {
		t.Fatalf("Mismatched correction should fall back to a fresh entry, got %s", res.Outcome)
	}
	if r.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", r.Len())
	}
	snap := r.Snapshot()
	if snap[0].Speaker != "Jane" || snap[0].Text != "hello" {
		t.Error("Jane's entry must be untouched by Bob's correction")
	}
}

func TestCorrectionWithoutMatchCreatesEntry(t *testing.T) {
	r := NewReconciler(DefaultConfig(), nil)

	res := r.Ingest(newCorrection("Jane", "never seen", "the revised text", time.Now()))
	if res.Outcome != OutcomeCreated {
		t.Fatalf("Orphan correction should create a fresh entry, got %s (%s)", res.Outcome, res.Reason)
	}
	if res.Utterance.Text != "the revised text" {
		t.Errorf("Fresh entry should carry the corrected text, got %q", res.Utterance.Text)
	}
}

func TestUnknownSpeakerSuppressed(t *testing.T) {
	r := NewReconciler(DefaultConfig(), nil)

	for _, speaker := range []string{"", "  ", "Unknown", "unknown"} {
		res := r.Ingest(newUtterance(speaker, "some caption", time.Now()))
		if res.Outcome != OutcomeDropped || res.Reason != "unknown speaker" {
			t.Errorf("Speaker %q should be dropped, got %s (%s)", speaker, res.Outcome, res.Reason)
		}
	}
	if r.Len() != 0 {
		t.Errorf("Expected empty transcript, got %d entries", r.Len())
	}

	// An orphan correction from an unknown speaker is dropped too.
	res := r.Ingest(newCorrection("Unknown", "nothing", "still nothing", time.Now()))
	if res.Outcome != OutcomeDropped {
		t.Errorf("Orphan unattributed correction should be dropped, got %s", res.Outcome)
	}
}

func TestSystemMessagesBypassDedup(t *testing.T) {
	r := NewReconciler(DefaultConfig(), nil)
	base := time.Now()

	first := r.Ingest(newSystem("Recording started", base))
	second := r.Ingest(newSystem("Recording started", base))

	if first.Outcome != OutcomeCreated || second.Outcome != OutcomeCreated {
		t.Fatal("System messages must never be deduplicated")
	}
	if r.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", r.Len())
	}
}

func TestSystemMessagesOrderedByTimestamp(t *testing.T) {
	r := NewReconciler(DefaultConfig(), nil)
	base := time.Now().Truncate(time.Second)

	r.Ingest(newUtterance("Jane", "first point", base.Add(10*time.Second)))
	r.Ingest(newUtterance("Bob", "second point", base.Add(20*time.Second)))
	r.Ingest(newSystem("Guest joined", base.Add(15*time.Second)))

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(snap))
	}
	if !snap[1].System || snap[1].Text != "Guest joined" {
		t.Errorf("System notice should slot between the captions, got %q at position 1", snap[1].Text)
	}
}

func TestSystemMessageNotACorrectionTarget(t *testing.T) {
	r := NewReconciler(DefaultConfig(), nil)
	base := time.Now()

	r.Ingest(newSystem("Recording started", base))
	res := r.Ingest(newCorrection("Jane", "Recording started", "Recording resumed", base.Add(time.Second)))

	if res.Outcome != OutcomeCreated {
		t.Fatalf("Correction must never match a system entry, got %s", res.Outcome)
	}
	snap := r.Snapshot()
	for _, u := range snap {
		if u.System && u.Text != "Recording started" {
			t.Errorf("System entry was modified: %q", u.Text)
		}
	}
}

func TestSampleSince(t *testing.T) {
	r := NewReconciler(DefaultConfig(), nil)
	base := time.Now().Truncate(time.Second)

	r.Ingest(newUtterance("Jane", "point one", base))
	r.Ingest(newUtterance("Bob", "point two", base.Add(2*time.Second)))

	sample, sent := r.SampleSince(nil)
	if len(sample) != 2 {
		t.Fatalf("First sample should include everything, got %d", len(sample))
	}

	// Nothing changed: the next sample is empty.
	sample, sent = r.SampleSince(sent)
	if len(sample) != 0 {
		t.Fatalf("Unchanged transcript should sample empty, got %d", len(sample))
	}

	// A correction makes the entry eligible again.
	r.Ingest(newCorrection("Jane", "point one", "point one, revised", base.Add(3*time.Second)))
	sample, _ = r.SampleSince(sent)
	if len(sample) != 1 {
		t.Fatalf("Corrected entry should re-enter the sample, got %d", len(sample))
	}
	if sample[0].Text != "point one, revised" {
		t.Errorf("Sample should carry the revised text, got %q", sample[0].Text)
	}
}

func TestSampleSinceDoesNotMutateInput(t *testing.T) {
	r := NewReconciler(DefaultConfig(), nil)
	r.Ingest(newUtterance("Jane", "hello", time.Now()))

	sent := map[string]time.Time{}
	r.SampleSince(sent)
	if len(sent) != 0 {
		t.Error("SampleSince must not mutate the caller's map")
	}
}

func TestMeetingScenario(t *testing.T) {
	r := NewReconciler(DefaultConfig(), nil)
	base := time.Now().Truncate(time.Second)

	r.Ingest(newSystem("Recording started", base))
	r.Ingest(newUtterance("Jane", "Hi evryone", base.Add(time.Second)))
	r.Ingest(newUtterance("Jane", "Hi evryone", base.Add(1500*time.Millisecond))) // capture double-fire
	r.Ingest(newCorrection("Jane", "Hi evryone", "Hi everyone", base.Add(2*time.Second)))
	r.Ingest(newUtterance("Unknown", "background chatter", base.Add(3*time.Second)))
	r.Ingest(newUtterance("Bob", "Morning Jane", base.Add(4*time.Second)))

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(snap))
	}
	if !snap[0].System {
		t.Error("System notice should lead the transcript")
	}
	if snap[1].Speaker != "Jane" || snap[1].Text != "Hi everyone" {
		t.Errorf("Jane's entry should be corrected in place, got %q / %q", snap[1].Speaker, snap[1].Text)
	}
	if snap[1].UpdateCount != 1 {
		t.Errorf("Expected one revision, got %d", snap[1].UpdateCount)
	}
	if snap[2].Speaker != "Bob" {
		t.Errorf("Expected Bob last, got %q", snap[2].Speaker)
	}
}

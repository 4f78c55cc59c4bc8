package workspace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/meetscribe/livenotes/internal/generator"
	"github.com/meetscribe/livenotes/internal/notes"
	"github.com/meetscribe/livenotes/internal/store"
	"github.com/meetscribe/livenotes/internal/transcript"
)

type fakeStore struct {
	mu          sync.Mutex
	docs        map[string]string
	transcripts map[string]store.TranscriptRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:        make(map[string]string),
		transcripts: make(map[string]store.TranscriptRecord),
	}
}

func (f *fakeStore) SaveDocument(ctx context.Context, channel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[channel] = text
	return nil
}

func (f *fakeStore) LoadDocument(ctx context.Context, channel string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.docs[channel]
	return text, ok, nil
}

func (f *fakeStore) AppendTranscriptRecord(ctx context.Context, rec store.TranscriptRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts[rec.ID] = rec
	return nil
}

func (f *fakeStore) QueryTranscriptRecords(ctx context.Context, channel string, from, to time.Time) ([]store.TranscriptRecord, error) {
	return nil, nil
}

func (f *fakeStore) AppendChatRecord(ctx context.Context, rec store.ChatRecord) error { return nil }

func (f *fakeStore) QueryChatRecords(ctx context.Context, channel string) ([]store.ChatRecord, error) {
	return nil, nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) transcriptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transcripts)
}

type fakeGenerator struct{}

func (fakeGenerator) GenerateNotes(ctx context.Context, lines []string, current string) (<-chan generator.StreamEvent, error) {
	ch := make(chan generator.StreamEvent, 1)
	ch <- generator.StreamEvent{Kind: generator.EventComplete}
	close(ch)
	return ch, nil
}

func (fakeGenerator) GenerateChatReply(ctx context.Context, prompt, systemPrompt string) (<-chan generator.StreamEvent, error) {
	ch := make(chan generator.StreamEvent, 1)
	ch <- generator.StreamEvent{Kind: generator.EventComplete}
	close(ch)
	return ch, nil
}

func newTestChannel(t *testing.T, fs *fakeStore) *Channel {
	t.Helper()
	c := NewChannel("meeting", Config{
		Notes:         notes.Config{Interval: time.Hour, InitialDelay: time.Hour},
		SessionLogDir: t.TempDir(),
	}, fakeGenerator{}, fs, nil)
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestHandleRawBuildsTranscript(t *testing.T) {
	fs := newFakeStore()
	c := newTestChannel(t, fs)

	now := time.Now().Format(time.RFC3339)
	c.HandleRaw(transcript.RawMessage{Type: "new_message", Speaker: "Jane", Text: "hello", Timestamp: now})
	c.HandleRaw(transcript.RawMessage{Type: "new_message", Speaker: "Unknown", Text: "noise", Timestamp: now})

	waitFor(t, time.Second, func() bool { return len(c.Transcript()) == 1 },
		"Utterance never reached the transcript")

	snap := c.Transcript()
	if snap[0].Speaker != "Jane" || snap[0].Text != "hello" {
		t.Errorf("Unexpected transcript entry: %+v", snap[0])
	}

	// The kept utterance is persisted; the dropped one is not.
	waitFor(t, time.Second, func() bool { return fs.transcriptCount() == 1 },
		"Transcript record never persisted")
}

func TestHandleRawCorrectionRepersists(t *testing.T) {
	fs := newFakeStore()
	c := newTestChannel(t, fs)

	now := time.Now().Format(time.RFC3339)
	c.HandleRaw(transcript.RawMessage{Type: "new_message", Speaker: "Jane", Text: "Hi evryone", Timestamp: now})
	waitFor(t, time.Second, func() bool { return len(c.Transcript()) == 1 }, "Utterance never ingested")

	c.HandleRaw(transcript.RawMessage{Type: "message_update", Speaker: "Jane", Text: "Hi everyone", OldText: "Hi evryone", Timestamp: now})
	waitFor(t, time.Second, func() bool {
		snap := c.Transcript()
		return len(snap) == 1 && snap[0].Text == "Hi everyone"
	}, "Correction never applied")

	if fs.transcriptCount() != 1 {
		t.Errorf("Correction should re-persist the same id, got %d records", fs.transcriptCount())
	}
}

func TestKeepaliveBookkeeping(t *testing.T) {
	c := newTestChannel(t, newFakeStore())

	if !c.LastKeepalive().IsZero() {
		t.Fatal("No keepalive seen yet")
	}
	c.HandleRaw(transcript.RawMessage{Type: "keepalive"})

	waitFor(t, time.Second, func() bool { return !c.LastKeepalive().IsZero() },
		"Keepalive never recorded")
	if len(c.Transcript()) != 0 {
		t.Error("Keepalives must not create transcript entries")
	}
}

func TestRecordingLifecycle(t *testing.T) {
	fs := newFakeStore()
	c := newTestChannel(t, fs)

	if c.Recording() {
		t.Fatal("Channel should start idle")
	}
	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if !c.Recording() {
		t.Fatal("Channel should be recording")
	}
	if err := c.StartRecording(context.Background()); err == nil {
		t.Fatal("Second StartRecording should fail")
	}
	if c.SessionMetrics() == nil {
		t.Error("Recording should carry session metrics")
	}

	c.StopRecording()
	if c.Recording() {
		t.Fatal("Channel should be idle after stop")
	}
	c.StopRecording() // second stop is a no-op

	// A later recording on the same channel continues the meeting.
	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
}

func TestSetDocumentWhileIdle(t *testing.T) {
	fs := newFakeStore()
	c := newTestChannel(t, fs)

	if err := c.SetDocument(context.Background(), "my notes"); err != nil {
		t.Fatalf("SetDocument failed: %v", err)
	}

	text, err := c.Document(context.Background())
	if err != nil {
		t.Fatalf("Document failed: %v", err)
	}
	if text != "my notes" {
		t.Errorf("Expected persisted edit, got %q", text)
	}
}

func TestCloseRejectsFurtherEvents(t *testing.T) {
	c := NewChannel("meeting", Config{
		Notes:         notes.Config{Interval: time.Hour, InitialDelay: time.Hour},
		SessionLogDir: t.TempDir(),
	}, fakeGenerator{}, newFakeStore(), nil)

	c.Close()
	if err := c.HandleRaw(transcript.RawMessage{Type: "keepalive"}); err != ErrClosed {
		t.Fatalf("Expected ErrClosed, got %v", err)
	}
	if err := c.SetDocument(context.Background(), "x"); err != ErrClosed {
		t.Fatalf("Expected ErrClosed, got %v", err)
	}
	c.Close() // idempotent
}

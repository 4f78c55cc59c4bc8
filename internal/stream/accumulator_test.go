package stream

import (
	"errors"
	"testing"
)

func TestSingleSessionPerChannel(t *testing.T) {
	acc := New()

	s, err := acc.Begin("meeting")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	if _, err := acc.Begin("meeting"); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("Second Begin should fail with ErrAlreadyActive, got %v", err)
	}

	// A different channel is unaffected.
	if _, err := acc.Begin("other"); err != nil {
		t.Fatalf("Begin on another channel failed: %v", err)
	}

	acc.Complete(s)
	if _, err := acc.Begin("meeting"); err != nil {
		t.Fatalf("Begin after Complete failed: %v", err)
	}
}

func TestAppendAccumulates(t *testing.T) {
	acc := New()
	s, _ := acc.Begin("meeting")

	acc.Append(s, "## Notes")
	got := acc.Append(s, "\n- first point")

	want := "## Notes\n- first point"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if acc.Current(s) != want {
		t.Errorf("Current should match the running text")
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	acc := New()
	s, _ := acc.Begin("meeting")
	acc.Append(s, "final text")

	first := acc.Complete(s)
	second := acc.Complete(s)

	if first != "final text" || second != "final text" {
		t.Errorf("Complete should return the same value every time, got %q / %q", first, second)
	}

	// Appends after completion are ignored.
	if got := acc.Append(s, " extra"); got != "final text" {
		t.Errorf("Append after Complete should be a no-op, got %q", got)
	}
}

func TestFailDiscardsPartialText(t *testing.T) {
	acc := New()
	s, _ := acc.Begin("meeting")
	acc.Append(s, "half a doc")

	acc.Fail(s, errors.New("connection reset"))

	if !errors.Is(s.Err(), ErrSessionFailed) {
		t.Errorf("Expected ErrSessionFailed, got %v", s.Err())
	}
	if got := acc.Current(s); got != "" {
		t.Errorf("Partial text must be discarded on failure, got %q", got)
	}
	if acc.Active("meeting") {
		t.Error("Channel slot should be released after Fail")
	}
}

func TestFailAfterCompleteIsIgnored(t *testing.T) {
	acc := New()
	s, _ := acc.Begin("meeting")
	acc.Append(s, "done")
	acc.Complete(s)

	acc.Fail(s, errors.New("late error"))

	if s.Err() != nil {
		t.Errorf("Late Fail should not override completion, got %v", s.Err())
	}
	if got := acc.Current(s); got != "done" {
		t.Errorf("Completed text should survive a late Fail, got %q", got)
	}
}

func TestAbort(t *testing.T) {
	acc := New()
	s, _ := acc.Begin("meeting")
	acc.Append(s, "in flight")

	acc.Abort("meeting", errors.New("recording stopped"))

	if !s.Done() {
		t.Error("Aborted session should be done")
	}
	if !errors.Is(s.Err(), ErrSessionFailed) {
		t.Errorf("Expected ErrSessionFailed, got %v", s.Err())
	}
	if acc.Active("meeting") {
		t.Error("Abort should free the channel slot")
	}

	// Aborting an idle channel is a no-op.
	acc.Abort("idle-channel", errors.New("nothing here"))
}

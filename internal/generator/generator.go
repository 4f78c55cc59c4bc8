// Package generator talks to the external generation service that turns
// transcript excerpts or prompts into streamed text.
package generator

import "context"

// EventKind tags one message of a generation stream.
type EventKind int

const (
	EventStart EventKind = iota
	EventToken
	EventInfo
	EventComplete
	EventError
)

// StreamEvent is one message of a generation stream. Token events carry the
// fragment; a token with Done set is the final fragment. Complete and Error
// terminate the stream.
type StreamEvent struct {
	Kind    EventKind
	Token   string
	Done    bool
	Message string
	Err     error
}

// Generator produces token streams. The returned channel is closed after a
// Complete or Error event, or when the underlying transport fails (in which
// case the last event is an Error).
type Generator interface {
	// GenerateNotes synthesizes a running document from new transcript
	// lines ("speaker: text", in transcript order) plus the document's own
	// prior state.
	GenerateNotes(ctx context.Context, lines []string, current string) (<-chan StreamEvent, error)

	// GenerateChatReply streams an assistant reply for a prompt.
	GenerateChatReply(ctx context.Context, prompt, systemPrompt string) (<-chan StreamEvent, error)
}

package transcript

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedEvent is returned by Normalize for payloads that cannot be
// turned into a canonical event. Callers drop and log these; they are never
// fatal.
var ErrMalformedEvent = errors.New("malformed caption event")

// RawMessage is the wire shape emitted by the capture source.
type RawMessage struct {
	Type        string      `json:"type,omitempty"`        // "new_message", "message_update", or "keepalive"
	Text        string      `json:"text"`                  // caption text content
	Speaker     string      `json:"speaker"`               // speaker name or "System"
	Timestamp   string      `json:"timestamp"`             // ISO 8601 timestamp
	Source      string      `json:"source,omitempty"`      // e.g. "google-meet"
	MessageType string      `json:"messageType,omitempty"` // e.g. "caption_update"
	OldText     string      `json:"oldText,omitempty"`     // previous text (for updates)
	Changes     interface{} `json:"changes,omitempty"`     // diff information from the source, opaque here
}

// EventKind tags a normalized event.
type EventKind int

const (
	KindNewUtterance EventKind = iota
	KindCorrection
	KindConnectionStatus
	KindKeepalive
)

func (k EventKind) String() string {
	switch k {
	case KindNewUtterance:
		return "new_utterance"
	case KindCorrection:
		return "correction"
	case KindConnectionStatus:
		return "connection_status"
	case KindKeepalive:
		return "keepalive"
	default:
		return "unknown"
	}
}

// Event is a normalized caption event. Exactly the fields for its kind are
// set; the zero value of the rest is meaningless.
type Event struct {
	Kind      EventKind
	Speaker   string
	Text      string
	OldText   string // corrections only
	Timestamp time.Time
	Source    string
	System    bool // session-management notice from the capture source

	// connection status only
	Connected bool
	Message   string
}

const systemSpeaker = "System"

// Normalize converts a raw wire message into a canonical event.
// Keepalives survive as KindKeepalive so the consumer can do liveness
// bookkeeping; unknown message types and unparsable timestamps are rejected
// with ErrMalformedEvent.
func Normalize(raw RawMessage) (Event, error) {
	switch raw.Type {
	case "keepalive":
		return Event{Kind: KindKeepalive, Timestamp: time.Now()}, nil

	case "new_message":
		ts, err := parseTimestamp(raw.Timestamp)
		if err != nil {
			return Event{}, err
		}
		return Event{
			Kind:      KindNewUtterance,
			Speaker:   raw.Speaker,
			Text:      raw.Text,
			Timestamp: ts,
			Source:    raw.Source,
			System:    raw.Speaker == systemSpeaker,
		}, nil

	case "message_update":
		ts, err := parseTimestamp(raw.Timestamp)
		if err != nil {
			return Event{}, err
		}
		if raw.OldText == "" {
			return Event{}, fmt.Errorf("%w: message_update without oldText", ErrMalformedEvent)
		}
		return Event{
			Kind:      KindCorrection,
			Speaker:   raw.Speaker,
			Text:      raw.Text,
			OldText:   raw.OldText,
			Timestamp: ts,
			Source:    raw.Source,
		}, nil

	case "":
		// Typeless messages: system notices when attributed to "System",
		// otherwise treated as new captions.
		ts, err := parseTimestamp(raw.Timestamp)
		if err != nil {
			return Event{}, err
		}
		return Event{
			Kind:      KindNewUtterance,
			Speaker:   raw.Speaker,
			Text:      raw.Text,
			Timestamp: ts,
			Source:    raw.Source,
			System:    raw.Speaker == systemSpeaker,
		}, nil

	default:
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, raw.Type)
	}
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		// Some capture sources omit timestamps on the first burst after
		// connecting; fall back to arrival time.
		return time.Now(), nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		ts, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedEvent, s)
	}
	return ts, nil
}

// IsUnknownSpeaker reports whether a speaker label carries no usable
// attribution. The capture source emits "Unknown" for captions it cannot
// attribute.
func IsUnknownSpeaker(speaker string) bool {
	s := strings.TrimSpace(speaker)
	return s == "" || strings.EqualFold(s, "unknown")
}

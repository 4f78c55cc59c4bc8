package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	handshakeTimeout = 30 * time.Second
	readTimeout      = 60 * time.Second
	streamBuffer     = 100
)

// wire shapes of the generation service

type notesRequest struct {
	Transcript []string `json:"transcript"`
	Notes      string   `json:"notes"`
}

type chatRequest struct {
	Message      string `json:"message"`
	SystemPrompt string `json:"system_prompt"`
}

type wsResponse struct {
	Type    string `json:"type"`    // "start", "token", "complete", "error", "info"
	Content string `json:"content"` // for token type
	Message string `json:"message"` // for other types
	Done    bool   `json:"done"`    // for token type
}

// WSGenerator streams tokens from the generation service over WebSocket.
// Each invocation dials its own connection, writes one request and reads
// until the service signals completion, so concurrent invocations on
// different channels never share a socket.
type WSGenerator struct {
	notesURL string
	chatURL  string
	dialer   *websocket.Dialer
	logger   *logrus.Entry
}

// NewWSGenerator creates a client for the given endpoint URLs
// (e.g. ws://localhost:8000/ws/markdown_agent and ws://localhost:8000/ws/chat).
func NewWSGenerator(notesURL, chatURL string, logger *logrus.Entry) *WSGenerator {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WSGenerator{
		notesURL: notesURL,
		chatURL:  chatURL,
		dialer:   &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		logger:   logger.WithField("component", "generator"),
	}
}

// GenerateNotes implements Generator.
func (g *WSGenerator) GenerateNotes(ctx context.Context, lines []string, current string) (<-chan StreamEvent, error) {
	return g.invoke(ctx, g.notesURL, notesRequest{Transcript: lines, Notes: current})
}

// GenerateChatReply implements Generator.
func (g *WSGenerator) GenerateChatReply(ctx context.Context, prompt, systemPrompt string) (<-chan StreamEvent, error) {
	return g.invoke(ctx, g.chatURL, chatRequest{Message: prompt, SystemPrompt: systemPrompt})
}

func (g *WSGenerator) invoke(ctx context.Context, url string, request interface{}) (<-chan StreamEvent, error) {
	conn, _, err := g.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to generation service at %s: %w", url, err)
	}

	payload, err := json.Marshal(request)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to marshal generation request: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send generation request: %w", err)
	}

	events := make(chan StreamEvent, streamBuffer)
	go g.readStream(ctx, conn, events)
	return events, nil
}

// readStream decodes service responses until completion or failure and
// closes the event channel.
func (g *WSGenerator) readStream(ctx context.Context, conn *websocket.Conn, events chan<- StreamEvent) {
	defer close(events)
	defer conn.Close()

	// Tear the read loop down if the caller abandons the stream.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				events <- StreamEvent{Kind: EventError, Err: ctx.Err()}
				return
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.WithError(err).Warn("Generation stream read error")
			}
			events <- StreamEvent{Kind: EventError, Err: fmt.Errorf("generation stream closed: %w", err)}
			return
		}

		var resp wsResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			g.logger.WithError(err).Warn("Failed to parse generation response")
			continue
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch resp.Type {
		case "start":
			events <- StreamEvent{Kind: EventStart, Message: resp.Message}

		case "token":
			events <- StreamEvent{Kind: EventToken, Token: resp.Content, Done: resp.Done}
			if resp.Done {
				return
			}

		case "complete":
			events <- StreamEvent{Kind: EventComplete, Message: resp.Message}
			return

		case "info":
			events <- StreamEvent{Kind: EventInfo, Message: resp.Message}

		case "error":
			events <- StreamEvent{Kind: EventError, Err: fmt.Errorf("generation service: %s", resp.Message)}
			return

		default:
			g.logger.WithField("type", resp.Type).Warn("Unknown generation response type")
		}
	}
}

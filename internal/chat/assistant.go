// Package chat provides the meeting assistant conversation that runs next to
// the live notes, backed by the same streaming generation service.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/meetscribe/livenotes/internal/generator"
	"github.com/meetscribe/livenotes/internal/store"
	"github.com/meetscribe/livenotes/internal/stream"
)

// ErrBusy is returned when a reply is requested while the previous one is
// still streaming.
var ErrBusy = errors.New("assistant reply already in progress")

const defaultSystemPrompt = "You are a helpful meeting assistant. Answer " +
	"questions about the ongoing meeting using the transcript and notes " +
	"context provided in the conversation."

// Assistant runs a single conversation per workspace channel. Replies stream
// token by token; only one reply may be in flight at a time.
type Assistant struct {
	channel      string
	systemPrompt string
	gen          generator.Generator
	acc          *stream.Accumulator
	db           store.Store
	logger       *logrus.Entry
}

// NewAssistant wires an assistant for one channel.
func NewAssistant(channel, systemPrompt string, gen generator.Generator,
	db store.Store, logger *logrus.Entry) *Assistant {

	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	return &Assistant{
		channel:      channel,
		systemPrompt: systemPrompt,
		gen:          gen,
		acc:          stream.New(),
		db:           db,
		logger:       logger.WithFields(logrus.Fields{"component": "chat", "channel": channel}),
	}
}

// Fragment is one streamed piece of an assistant reply.
type Fragment struct {
	Token string
	Text  string // accumulated reply so far
	Done  bool
}

// Send persists the user's turn, streams the assistant's reply through fn
// and persists the completed reply. Empty messages are rejected; a second
// Send while one is streaming returns ErrBusy.
func (a *Assistant) Send(ctx context.Context, message string, fn func(Fragment)) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", errors.New("empty message")
	}

	sess, err := a.acc.Begin(a.channel)
	if err != nil {
		return "", ErrBusy
	}

	userRec := store.ChatRecord{
		ID:        uuid.NewString(),
		Channel:   a.channel,
		Role:      "user",
		Content:   message,
		CreatedAt: time.Now(),
	}
	if err := a.db.AppendChatRecord(ctx, userRec); err != nil {
		a.acc.Fail(sess, err)
		return "", fmt.Errorf("persist user turn: %w", err)
	}

	events, err := a.gen.GenerateChatReply(ctx, message, a.systemPrompt)
	if err != nil {
		a.acc.Fail(sess, err)
		return "", fmt.Errorf("dispatch chat request: %w", err)
	}

	final, err := a.consume(ctx, sess, events, fn)
	if err != nil {
		a.logger.WithError(err).Warn("Assistant reply failed")
		return "", err
	}

	replyRec := store.ChatRecord{
		ID:        uuid.NewString(),
		Channel:   a.channel,
		Role:      "assistant",
		Content:   final,
		CreatedAt: time.Now(),
	}
	if err := a.db.AppendChatRecord(ctx, replyRec); err != nil {
		a.logger.WithError(err).Warn("Failed to persist assistant turn")
	}
	return final, nil
}

func (a *Assistant) consume(ctx context.Context, sess *stream.Session,
	events <-chan generator.StreamEvent, fn func(Fragment)) (string, error) {

	for {
		select {
		case <-ctx.Done():
			a.acc.Fail(sess, ctx.Err())
			return "", ctx.Err()

		case ev, ok := <-events:
			if !ok {
				a.acc.Fail(sess, io.ErrUnexpectedEOF)
				return "", io.ErrUnexpectedEOF
			}
			switch ev.Kind {
			case generator.EventToken:
				text := a.acc.Append(sess, ev.Token)
				if fn != nil {
					fn(Fragment{Token: ev.Token, Text: text, Done: ev.Done})
				}
				if ev.Done {
					return a.acc.Complete(sess), nil
				}

			case generator.EventComplete:
				final := a.acc.Complete(sess)
				if fn != nil {
					fn(Fragment{Text: final, Done: true})
				}
				return final, nil

			case generator.EventError:
				a.acc.Fail(sess, ev.Err)
				return "", ev.Err

			case generator.EventStart, generator.EventInfo:
			}
		}
	}
}

// History returns the conversation so far in creation order.
func (a *Assistant) History(ctx context.Context) ([]store.ChatRecord, error) {
	return a.db.QueryChatRecords(ctx, a.channel)
}

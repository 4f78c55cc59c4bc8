// Package store is the durable side of the engine: the notes document,
// transcript rows and chat history per workspace channel.
package store

import (
	"context"
	"time"
)

// TranscriptRecord is a durable transcript row.
type TranscriptRecord struct {
	ID           string    `json:"id"`
	Channel      string    `json:"channel"`
	Speaker      string    `json:"speaker"`
	Text         string    `json:"text"`
	System       bool      `json:"system"`
	UpdateCount  int       `json:"update_count"`
	Timestamp    time.Time `json:"timestamp"`
	LastModified time.Time `json:"last_modified"`
}

// ChatRecord is one turn of the assistant conversation.
type ChatRecord struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the persistence gateway consumed by the engine. Implementations
// must be safe for concurrent use.
type Store interface {
	SaveDocument(ctx context.Context, channel, text string) error
	// LoadDocument returns the document text and whether one exists.
	LoadDocument(ctx context.Context, channel string) (string, bool, error)

	AppendTranscriptRecord(ctx context.Context, rec TranscriptRecord) error
	// QueryTranscriptRecords returns records with timestamps in [from, to],
	// ordered by timestamp.
	QueryTranscriptRecords(ctx context.Context, channel string, from, to time.Time) ([]TranscriptRecord, error)

	AppendChatRecord(ctx context.Context, rec ChatRecord) error
	QueryChatRecords(ctx context.Context, channel string) ([]ChatRecord, error)

	Close() error
}

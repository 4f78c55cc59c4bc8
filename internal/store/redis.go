package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisStore keeps documents in plain keys and records in per-channel lists.
// Time-range filtering happens client-side; transcript lists stay small for
// a single session so a linear pass is fine.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to the given address and verifies the connection.
func OpenRedis(addr, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	if prefix == "" {
		prefix = "livenotes:"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// Close closes the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) docKey(channel string) string {
	return s.prefix + "doc:" + channel
}

func (s *RedisStore) transcriptKey(channel string) string {
	return s.prefix + "transcript:" + channel
}

func (s *RedisStore) chatKey(channel string) string {
	return s.prefix + "chat:" + channel
}

// SaveDocument stores the notes document.
func (s *RedisStore) SaveDocument(ctx context.Context, channel, text string) error {
	if err := s.client.Set(ctx, s.docKey(channel), text, 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", s.docKey(channel), err)
	}
	return nil
}

// LoadDocument returns the notes document, if present.
func (s *RedisStore) LoadDocument(ctx context.Context, channel string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.docKey(channel)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis GET %s: %w", s.docKey(channel), err)
	}
	return val, true, nil
}

// AppendTranscriptRecord pushes one row onto the channel list. Corrections
// append a fresh row for the same id; QueryTranscriptRecords keeps the
// latest version of each id.
func (s *RedisStore) AppendTranscriptRecord(ctx context.Context, rec TranscriptRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal transcript record: %w", err)
	}
	if err := s.client.RPush(ctx, s.transcriptKey(rec.Channel), payload).Err(); err != nil {
		return fmt.Errorf("redis RPUSH %s: %w", s.transcriptKey(rec.Channel), err)
	}
	return nil
}

// QueryTranscriptRecords returns rows in [from, to] in append order, one per
// utterance id.
func (s *RedisStore) QueryTranscriptRecords(ctx context.Context, channel string, from, to time.Time) ([]TranscriptRecord, error) {
	raw, err := s.client.LRange(ctx, s.transcriptKey(channel), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis LRANGE %s: %w", s.transcriptKey(channel), err)
	}

	latest := make(map[string]int)
	var records []TranscriptRecord
	for _, item := range raw {
		var rec TranscriptRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal transcript record: %w", err)
		}
		if rec.Timestamp.Before(from) || rec.Timestamp.After(to) {
			continue
		}
		if idx, ok := latest[rec.ID]; ok {
			records[idx] = rec
			continue
		}
		latest[rec.ID] = len(records)
		records = append(records, rec)
	}
	return records, nil
}

// AppendChatRecord pushes one conversation turn.
func (s *RedisStore) AppendChatRecord(ctx context.Context, rec ChatRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal chat record: %w", err)
	}
	if err := s.client.RPush(ctx, s.chatKey(rec.Channel), payload).Err(); err != nil {
		return fmt.Errorf("redis RPUSH %s: %w", s.chatKey(rec.Channel), err)
	}
	return nil
}

// QueryChatRecords returns the conversation in append order.
func (s *RedisStore) QueryChatRecords(ctx context.Context, channel string) ([]ChatRecord, error) {
	raw, err := s.client.LRange(ctx, s.chatKey(channel), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis LRANGE %s: %w", s.chatKey(channel), err)
	}

	var records []ChatRecord
	for _, item := range raw {
		var rec ChatRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal chat record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

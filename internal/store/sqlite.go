package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists documents, transcript rows and chat history in a
// local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	channel   TEXT PRIMARY KEY,
	text      TEXT NOT NULL,
	updatedAt INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS transcript_records (
	id           TEXT PRIMARY KEY,
	channel      TEXT NOT NULL,
	speaker      TEXT NOT NULL,
	text         TEXT NOT NULL,
	system       INTEGER NOT NULL DEFAULT 0,
	updateCount  INTEGER NOT NULL DEFAULT 0,
	timestamp    INTEGER NOT NULL,
	lastModified INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcript_channel_ts
	ON transcript_records (channel, timestamp);
CREATE TABLE IF NOT EXISTS chat_records (
	id        TEXT PRIMARY KEY,
	channel   TEXT NOT NULL,
	role      TEXT NOT NULL,
	content   TEXT NOT NULL,
	createdAt INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_channel_created
	ON chat_records (channel, createdAt);
`

// OpenSQLite opens (and if needed creates) the database at path with WAL
// enabled. Use ":memory:" for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", path)
	if path == ":memory:" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection gets its own in-memory database; keep one.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveDocument upserts the notes document for a channel.
func (s *SQLiteStore) SaveDocument(ctx context.Context, channel, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (channel, text, updatedAt) VALUES (?, ?, ?)
		ON CONFLICT(channel) DO UPDATE SET text = excluded.text, updatedAt = excluded.updatedAt
	`, channel, text, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

// LoadDocument returns the notes document for a channel, if any.
func (s *SQLiteStore) LoadDocument(ctx context.Context, channel string) (string, bool, error) {
	var text string
	err := s.db.QueryRowContext(ctx,
		`SELECT text FROM documents WHERE channel = ?`, channel).Scan(&text)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load document: %w", err)
	}
	return text, true, nil
}

// AppendTranscriptRecord inserts or refreshes one transcript row. Upsert
// semantics: corrections re-persist the same utterance id.
func (s *SQLiteStore) AppendTranscriptRecord(ctx context.Context, rec TranscriptRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript_records
			(id, channel, speaker, text, system, updateCount, timestamp, lastModified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			speaker = excluded.speaker,
			text = excluded.text,
			updateCount = excluded.updateCount,
			lastModified = excluded.lastModified
	`, rec.ID, rec.Channel, rec.Speaker, rec.Text, boolToInt(rec.System),
		rec.UpdateCount, rec.Timestamp.UnixMilli(), rec.LastModified.UnixMilli())
	if err != nil {
		return fmt.Errorf("append transcript record: %w", err)
	}
	return nil
}

// QueryTranscriptRecords returns the channel's rows in [from, to] ordered by
// timestamp.
func (s *SQLiteStore) QueryTranscriptRecords(ctx context.Context, channel string, from, to time.Time) ([]TranscriptRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, speaker, text, system, updateCount, timestamp, lastModified
		FROM transcript_records
		WHERE channel = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, channel, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query transcript records: %w", err)
	}
	defer rows.Close()

	var records []TranscriptRecord
	for rows.Next() {
		var rec TranscriptRecord
		var system int
		var ts, modified int64
		if err := rows.Scan(&rec.ID, &rec.Channel, &rec.Speaker, &rec.Text,
			&system, &rec.UpdateCount, &ts, &modified); err != nil {
			return nil, fmt.Errorf("scan transcript record: %w", err)
		}
		rec.System = system != 0
		rec.Timestamp = time.UnixMilli(ts)
		rec.LastModified = time.UnixMilli(modified)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AppendChatRecord inserts one conversation turn.
func (s *SQLiteStore) AppendChatRecord(ctx context.Context, rec ChatRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_records (id, channel, role, content, createdAt)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.Channel, rec.Role, rec.Content, rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append chat record: %w", err)
	}
	return nil
}

// QueryChatRecords returns the channel's conversation in creation order.
func (s *SQLiteStore) QueryChatRecords(ctx context.Context, channel string) ([]ChatRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, role, content, createdAt
		FROM chat_records
		WHERE channel = ?
		ORDER BY createdAt ASC
	`, channel)
	if err != nil {
		return nil, fmt.Errorf("query chat records: %w", err)
	}
	defer rows.Close()

	var records []ChatRecord
	for rows.Next() {
		var rec ChatRecord
		var created int64
		if err := rows.Scan(&rec.ID, &rec.Channel, &rec.Role, &rec.Content, &created); err != nil {
			return nil, fmt.Errorf("scan chat record: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(created)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

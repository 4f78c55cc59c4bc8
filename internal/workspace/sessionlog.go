package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// SessionLogger writes a structured JSONL audit trail of one recording
// session to a file.
type SessionLogger struct {
	mu   sync.Mutex
	file *os.File
}

type logRecord struct {
	Timestamp   string            `json:"ts"`
	Event       string            `json:"event"`
	Channel     string            `json:"channel"`
	UtteranceID string            `json:"utterance_id,omitempty"`
	Speaker     string            `json:"speaker,omitempty"`
	Text        string            `json:"text,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}

// NewSessionLogger creates a logger under outputDir. Filename is timestamp
// plus the channel name.
func NewSessionLogger(outputDir, channel string, started time.Time) (*SessionLogger, error) {
	if outputDir == "" {
		outputDir = "."
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	filename := filepath.Join(outputDir,
		fmt.Sprintf("%s_recording_%s.jsonl", started.Format("20060102_150405"), channel))
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &SessionLogger{file: f}, nil
}

func (sl *SessionLogger) Close() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.file != nil {
		err := sl.file.Close()
		sl.file = nil
		return err
	}
	return nil
}

func (sl *SessionLogger) write(rec logRecord) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.file == nil {
		return
	}
	// keep lines compact
	rec.Text = strings.TrimSpace(rec.Text)
	enc := json.NewEncoder(sl.file)
	_ = enc.Encode(rec)
}

func (sl *SessionLogger) LogRecordingStart(channel string, started time.Time) {
	sl.write(logRecord{Timestamp: started.Format(time.RFC3339Nano), Event: "recording_start", Channel: channel})
}

func (sl *SessionLogger) LogRecordingStop(channel string, ended time.Time, summary string) {
	sl.write(logRecord{Timestamp: ended.Format(time.RFC3339Nano), Event: "recording_stop", Channel: channel, Details: map[string]string{"summary": summary}})
}

func (sl *SessionLogger) LogUtterance(channel, id, speaker, text string) {
	sl.write(logRecord{Timestamp: time.Now().Format(time.RFC3339Nano), Event: "utterance", Channel: channel, UtteranceID: id, Speaker: speaker, Text: text})
}

func (sl *SessionLogger) LogCorrection(channel, id, speaker, text string) {
	sl.write(logRecord{Timestamp: time.Now().Format(time.RFC3339Nano), Event: "correction", Channel: channel, UtteranceID: id, Speaker: speaker, Text: text})
}

func (sl *SessionLogger) LogDrop(channel, speaker, text, reason string) {
	sl.write(logRecord{Timestamp: time.Now().Format(time.RFC3339Nano), Event: "drop", Channel: channel, Speaker: speaker, Text: text, Reason: reason})
}

func (sl *SessionLogger) LogStatus(channel string, connected bool, message string) {
	sl.write(logRecord{Timestamp: time.Now().Format(time.RFC3339Nano), Event: "status", Channel: channel, Details: map[string]string{"connected": fmt.Sprintf("%t", connected), "message": message}})
}

func (sl *SessionLogger) LogManualEdit(channel string, bytes int) {
	sl.write(logRecord{Timestamp: time.Now().Format(time.RFC3339Nano), Event: "manual_edit", Channel: channel, Details: map[string]string{"bytes": fmt.Sprintf("%d", bytes)}})
}

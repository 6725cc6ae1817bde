package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrEnded is returned for entries recorded after the conversation_end line.
var ErrEnded = errors.New("transcript: conversation already ended")

// WriterConfig holds the parameters for [NewWriter].
type WriterConfig struct {
	// Dir is the directory transcripts are written to. Created if missing.
	Dir string

	RoomURL string
	BotName string

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Writer appends the entries of one conversation to its JSONL file.
// All methods are safe for concurrent use.
type Writer struct {
	mu    sync.Mutex
	id    string
	path  string
	now   func() time.Time
	ended bool
}

// NewConversationID returns an id of the form
// conversation-YYYYMMDD-HHMMSS-<8 hex> for the given UTC start time.
func NewConversationID(started time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "conversation-" + started.UTC().Format("20060102-150405") + "-" + suffix
}

// NewWriter creates the transcript file for a new conversation and writes the
// metadata line.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("transcript: create dir %q: %w", cfg.Dir, err)
	}

	started := now().UTC()
	w := &Writer{
		id:  NewConversationID(started),
		now: now,
	}
	w.path = filepath.Join(cfg.Dir, w.id+".jsonl")

	err := w.append(map[string]any{
		"type":            TypeMetadata,
		"conversation_id": w.id,
		"started_at":      started.Format(time.RFC3339Nano),
		"room_url":        nullable(cfg.RoomURL),
		"bot_name":        nullable(cfg.BotName),
	})
	if err != nil {
		return nil, err
	}
	slog.Info("transcript opened", "conversation_id", w.id, "path", w.path)
	return w, nil
}

// ConversationID returns the conversation id.
func (w *Writer) ConversationID() string { return w.id }

// Path returns the transcript file path.
func (w *Writer) Path() string { return w.path }

// RecordMessage appends a user or assistant turn. Empty text is ignored.
func (w *Writer) RecordMessage(role, text string, metadata map[string]any) error {
	if text == "" {
		return nil
	}
	entry := map[string]any{
		"type":            TypeMessage,
		"conversation_id": w.id,
		"role":            role,
		"text":            text,
		"timestamp":       w.timestamp(),
	}
	if len(metadata) > 0 {
		entry["metadata"] = metadata
	}
	return w.append(entry)
}

// RecordEvent appends a non-verbal event such as a vision engagement event.
func (w *Writer) RecordEvent(event, text string, metadata map[string]any) error {
	entry := map[string]any{
		"type":            TypeEvent,
		"conversation_id": w.id,
		"event":           event,
		"text":            text,
		"timestamp":       w.timestamp(),
	}
	if len(metadata) > 0 {
		entry["metadata"] = metadata
	}
	return w.append(entry)
}

// MarkConversationEnd appends the conversation_end line. Only the first call
// writes; reason defaults to "completed". Every later Record call returns
// [ErrEnded].
func (w *Writer) MarkConversationEnd(reason string) error {
	if reason == "" {
		reason = "completed"
	}
	data, err := marshalLine(map[string]any{
		"type":            TypeConversationEnd,
		"conversation_id": w.id,
		"ended_at":        w.timestamp(),
		"reason":          reason,
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ended {
		return nil
	}
	w.ended = true
	return w.writeLocked(data)
}

func (w *Writer) timestamp() string {
	return w.now().UTC().Format(time.RFC3339Nano)
}

// append writes entry unless the conversation has ended.
func (w *Writer) append(entry map[string]any) error {
	data, err := marshalLine(entry)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ended {
		return ErrEnded
	}
	return w.writeLocked(data)
}

func (w *Writer) writeLocked(data []byte) error {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("transcript: open %q: %w", w.path, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("transcript: write: %w", err)
	}
	return nil
}

func marshalLine(entry map[string]any) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("transcript: marshal: %w", err)
	}
	return append(data, '\n'), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Package transcript appends persisted chat messages to per-conversation
// NDJSON files in the background.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/auryn-chat/internal/domain"
)

const defaultQueueSize = 1000

// Config controls the recorder.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Entry is one line of a transcript file.
type Entry struct {
	RecordedAt     time.Time `json:"recorded_at"`
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	VoiceEnabled   bool      `json:"voice_enabled"`
}

// Recorder writes entries from a bounded queue on a single goroutine.
// A nil *Recorder discards everything.
type Recorder struct {
	dir    string
	logger *slog.Logger
	queue  chan Entry
	done   chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// New starts a recorder writing into cfg.Dir.
func New(cfg Config, logger *slog.Logger) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, errors.New("transcript recorder is disabled")
	}
	if cfg.Dir == "" {
		return nil, errors.New("transcript directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	r := &Recorder{
		dir:    cfg.Dir,
		logger: logger,
		queue:  make(chan Entry, size),
		done:   make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// Record enqueues msg. It never blocks; when the queue is full the entry is dropped.
func (r *Recorder) Record(msg *domain.Message) {
	if r == nil || msg == nil {
		return
	}

	entry := Entry{
		RecordedAt:     time.Now().UTC(),
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Role:           msg.Role(),
		Content:        msg.Content,
		Timestamp:      msg.Timestamp.UTC(),
		VoiceEnabled:   msg.VoiceEnabled,
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- entry:
	default:
		n := r.dropped.Add(1)
		r.logger.Warn("transcript queue full, dropping entry",
			"conversation_id", msg.ConversationID, "message_id", msg.ID, "dropped_total", n)
	}
}

// Dropped returns how many entries were discarded because the queue was full.
func (r *Recorder) Dropped() int64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

// Close stops accepting entries and waits for the queue to drain.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
	return nil
}

// Path returns the transcript file of a conversation.
func (r *Recorder) Path(conversationID string) string {
	return filepath.Join(r.dir, url.PathEscape(conversationID)+".ndjson")
}

func (r *Recorder) run() {
	defer close(r.done)
	for entry := range r.queue {
		if err := r.write(entry); err != nil {
			r.logger.Warn("failed to write transcript entry",
				"conversation_id", entry.ConversationID, "message_id", entry.MessageID, "error", err)
		}
	}
}

func (r *Recorder) write(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(r.Path(entry.ConversationID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append transcript: %w", err)
	}
	return f.Close()
}

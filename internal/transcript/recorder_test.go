package transcript

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/auryn-chat/internal/domain"
)

func TestRecorderWritesPerConversationNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec, err := New(Config{Enabled: true, Dir: dir, QueueSize: 16}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	user := domain.NewMessage("conv-1", "hello", true, false, time.Now())
	reply := domain.NewMessage("conv-1", "hi there", false, true, time.Now())
	rec.Record(user)
	rec.Record(reply)
	rec.Record(domain.NewMessage("conv-2", "elsewhere", true, false, time.Now()))

	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	entries := readEntries(t, filepath.Join(dir, "conv-1.ndjson"))
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].MessageID != user.ID || entries[0].Role != "user" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Content != "hi there" || entries[1].Role != "assistant" || !entries[1].VoiceEnabled {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}

	if got := readEntries(t, filepath.Join(dir, "conv-2.ndjson")); len(got) != 1 {
		t.Fatalf("expected 1 entry for conv-2, got %d", len(got))
	}
}

func TestRecorderEscapesConversationID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec, err := New(Config{Enabled: true, Dir: dir}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rec.Record(domain.NewMessage("../escape/attempt", "x", true, false, time.Now()))
	_ = rec.Close()

	path := rec.Path("../escape/attempt")
	if filepath.Dir(path) != dir {
		t.Fatalf("transcript path left the directory: %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected transcript file: %v", err)
	}
}

func TestRecorderIgnoresRecordsAfterClose(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec, err := New(Config{Enabled: true, Dir: dir, QueueSize: 1}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_ = rec.Close()
	_ = rec.Close()

	rec.Record(domain.NewMessage("late", "x", true, false, time.Now()))
	if _, err := os.Stat(filepath.Join(dir, "late.ndjson")); !os.IsNotExist(err) {
		t.Fatalf("expected no file after close, got err=%v", err)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	t.Parallel()

	var rec *Recorder
	rec.Record(domain.NewMessage("c", "x", true, false, time.Now()))
	if rec.Dropped() != 0 {
		t.Fatal("nil recorder reported drops")
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close on nil recorder: %v", err)
	}
}

func TestNewRejectsDisabledConfig(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Enabled: false, Dir: t.TempDir()}, nil); err == nil {
		t.Fatal("expected error for disabled recorder")
	}
	if _, err := New(Config{Enabled: true}, nil); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("unmarshal line %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan %s: %v", path, err)
	}
	return entries
}

package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWithWriterEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zapcore.InfoLevel)
	logger.Debug("hidden")
	logger.Info("resolved", zap.String("kind", "cmake"))
	_ = logger.Sync()

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "resolved" || entry["kind"] != "cmake" || entry["level"] != "info" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestNewCreatesLogFile(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := New(dir, true)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Debug("debug line")
	_ = logger.Sync()
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one log file, got %v %v", entries, err)
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("expected nop logger")
	}
}

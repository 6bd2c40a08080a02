package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWithWriterFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "info")
	if err != nil {
		t.Fatalf("NewWithWriter failed: %v", err)
	}
	log.Debug("hidden")
	log.Info("command created")
	_ = log.Sync()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected one log line, got %d: %s", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if entry["msg"] != "command created" || entry["level"] != "info" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key: %v", entry)
	}
}

func TestNewWithWriterDefaultsToError(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "")
	if err != nil {
		t.Fatalf("NewWithWriter failed: %v", err)
	}
	log.Warn("quiet")
	if buf.Len() != 0 {
		t.Fatalf("expected warn to be filtered at the default level, got %s", buf.String())
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

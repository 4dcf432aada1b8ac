package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesTextAndJSONFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "protoflow.log")
	off := false

	logger, closeFn, err := New(Config{Level: "debug", File: path, Writer: &buf, Journal: &off})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Debug("instance opened", "instance_id", "abc")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.Contains(buf.String(), "instance opened") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &record); err != nil {
		t.Fatalf("decode json record: %v", err)
	}
	if record["instance_id"] != "abc" {
		t.Fatalf("expected instance_id attr, got %v", record)
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	off := false

	logger, _, err := New(Config{Level: "warn", Writer: &buf, Journal: &off})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("tick")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	if level, err := ParseLevel("WARNING"); err != nil || level != slog.LevelWarn {
		t.Fatalf("expected warn, got %v %v", level, err)
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected unknown level error")
	}
}

func TestJournalKey(t *testing.T) {
	if got := journalKey("instance.id"); got != "INSTANCE_ID" {
		t.Fatalf("unexpected journal key %q", got)
	}
}

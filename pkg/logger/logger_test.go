package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewParsesLevelAndFormat(t *testing.T) {
	l := New(LoggingConfig{Level: "debug", Format: "json"})
	if l.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", l.GetLevel())
	}
	if _, ok := l.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected json formatter, got %T", l.Formatter)
	}

	fallback := New(LoggingConfig{Level: "loud"})
	if fallback.GetLevel() != logrus.InfoLevel {
		t.Fatalf("invalid level should fall back to info, got %s", fallback.GetLevel())
	}
}

func TestNewDefaultTagsComponent(t *testing.T) {
	l := NewDefault("verifier")
	var buf bytes.Buffer
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})

	l.WithField("task_id", "t1").Info("vote cast")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["component"] != "verifier" {
		t.Fatalf("component not tagged: %v", entry)
	}
	if entry["task_id"] != "t1" {
		t.Fatalf("field missing: %v", entry)
	}
}

func TestFileOutputWritesRotatedLog(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "logs", "provenance")
	l := New(LoggingConfig{Output: "file", FilePrefix: prefix})
	if l.rotator == nil {
		t.Fatalf("expected rotator to be configured")
	}
	l.Info("hello")
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(prefix + ".log"); err != nil {
		t.Fatalf("log file not created: %v", err)
	}
}

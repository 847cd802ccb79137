package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNamedLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("raffle", &buf, logrus.DebugLevel)

	log.WithField("round", 3).Info("round completed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["component"] != "raffle" {
		t.Fatalf("expected component raffle, got %v", entry["component"])
	}
	if entry["msg"] != "round completed" {
		t.Fatalf("unexpected message %v", entry["msg"])
	}
	if entry["round"] != float64(3) {
		t.Fatalf("expected round field, got %v", entry["round"])
	}
}

func TestNewFallsBackOnUnknownLevel(t *testing.T) {
	log := New(LoggingConfig{Level: "loud", Format: "json"})
	if log.Logger.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level, got %s", log.Logger.GetLevel())
	}
	if err := log.SetLevel("debug"); err != nil {
		t.Fatalf("set level: %v", err)
	}
	if log.Logger.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level after SetLevel")
	}
	if err := log.SetLevel("nope"); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

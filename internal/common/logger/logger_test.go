package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" DEBUG ", zerolog.DebugLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"chatty", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFieldsAreStructured(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf)

	log.Info("batch done", "line", "central", "results", 3, "error", errors.New("boom"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry["message"] != "batch done" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["line"] != "central" {
		t.Errorf("line = %v", entry["line"])
	}
	if entry["results"] != float64(3) {
		t.Errorf("results = %v", entry["results"])
	}
	if entry["error"] != "boom" {
		t.Errorf("error = %v", entry["error"])
	}
}

func TestWithAddsContext(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf).With("component", "recorder")

	log.Warn("queue full")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["component"] != "recorder" {
		t.Errorf("component = %v", entry["component"])
	}
}

func TestNewWithNilWriter(t *testing.T) {
	if New(nil) == nil {
		t.Fatal("logger should be created with a nil writer")
	}
	if FileWriter("") != nil {
		t.Error("empty path should disable file output")
	}
}

package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWithWriterLevels(t *testing.T) {
	tests := []struct {
		level     string
		debugSeen bool
	}{
		{"debug", true},
		{"info", false},
		{"warn", false},
		{"unknown", false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := NewWithWriter(tt.level, &buf)
			log.Debug("debug message")

			if got := strings.Contains(buf.String(), "debug message"); got != tt.debugSeen {
				t.Errorf("level %q: debug message seen = %v, want %v", tt.level, got, tt.debugSeen)
			}
		})
	}
}

func TestJSONKeys(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", &buf)
	log.WithMerchant("m-1").WithConversation("c-1").WithField("stage", "ordering").Warn("something")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}

	if entry["message"] != "something" {
		t.Errorf("message key = %v, want %q", entry["message"], "something")
	}
	if entry["level"] != "warning" {
		t.Errorf("level = %v, want warning", entry["level"])
	}
	if entry["merchant_id"] != "m-1" {
		t.Errorf("merchant_id = %v, want m-1", entry["merchant_id"])
	}
	if entry["conversation_id"] != "c-1" {
		t.Errorf("conversation_id = %v, want c-1", entry["conversation_id"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("timestamp key missing")
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", &buf)
	log.WithFields(map[string]any{"a": 1, "b": "two"}).Info("fields")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["a"] != float64(1) || entry["b"] != "two" {
		t.Errorf("fields not propagated: %v", entry)
	}
}

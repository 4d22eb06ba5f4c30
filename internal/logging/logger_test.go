package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLog_WritesJSONEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(LevelDebug, &buf)

	logger.Info("lock.acquired", "Lock acquired", map[string]interface{}{
		"device": 0,
	})

	var event Event
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("Expected valid JSON event, got: %v", err)
	}

	if event.Type != "lock.acquired" {
		t.Errorf("Expected type 'lock.acquired', got: %s", event.Type)
	}

	if event.Level != LevelInfo {
		t.Errorf("Expected level info, got: %s", event.Level)
	}

	if event.Payload["device"] != float64(0) {
		t.Errorf("Expected device payload 0, got: %v", event.Payload["device"])
	}
}

func TestLog_FiltersBelowMinLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(LevelWarn, &buf)

	logger.Debug("scan.start", "should not appear", nil)
	logger.Info("scan.done", "should not appear", nil)
	logger.Warn("scan.orphaned", "should appear", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected exactly 1 log line, got %d: %q", len(lines), buf.String())
	}

	if !strings.Contains(lines[0], "scan.orphaned") {
		t.Errorf("Expected warn event, got: %s", lines[0])
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != LevelDebug {
		t.Error("Expected debug level")
	}
	if ParseLevel("nonsense") != LevelInfo {
		t.Error("Expected fallback to info level")
	}
}

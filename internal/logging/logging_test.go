package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
)

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newWithWriter("info", "json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("hidden")
	logger.Named("dispatch").Info("update handled", zap.Int64("chat_id", 42))
	logger.Sync()

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["logger"] != "vscanbot.dispatch" || entry["message"] != "update handled" || entry["level"] != "info" {
		t.Errorf("entry = %v", entry)
	}
	if entry["chat_id"] != float64(42) {
		t.Errorf("chat_id = %v", entry["chat_id"])
	}
}

func TestInvalidSettings(t *testing.T) {
	if _, err := New("loud", "json"); err == nil {
		t.Error("bad level accepted")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Error("bad format accepted")
	}
}

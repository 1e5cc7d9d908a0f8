package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestSetup_OutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := Setup(&buf)

	log.Info("server started", "port", "8080")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v\noutput: %s", err, buf.String())
	}
	if entry["msg"] != "server started" {
		t.Errorf("msg = %v, want %q", entry["msg"], "server started")
	}
	if entry["port"] != "8080" {
		t.Errorf("port = %v, want 8080", entry["port"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", entry["level"])
	}
}

func TestSetup_DebugIsSuppressed(t *testing.T) {
	var buf bytes.Buffer
	log := Setup(&buf)

	log.Debug("verbose detail")

	if buf.Len() != 0 {
		t.Errorf("debug log should be suppressed, got: %s", buf.String())
	}
}

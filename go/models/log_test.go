package models

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	c := DefaultConfig()
	c.LogLevel = "debug"
	log, err := NewLogger(c, &buf)
	if err != nil {
		t.Fatal(err)
	}
	log.Debug().Str("state", StateRaw.String()).Msg("transition")
	log.Trace().Msg("dropped")
	var line map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected a single json line, got %q: %v", buf.String(), err)
	}
	if line["state"] != "raw" || line["level"] != "debug" {
		t.Fatalf("bad log line %v", line)
	}
}

func TestNewLoggerBadLevel(t *testing.T) {
	c := DefaultConfig()
	c.LogLevel = "loud"
	if _, err := NewLogger(c, &bytes.Buffer{}); err == nil {
		t.Fatal("invalid level accepted")
	}
}

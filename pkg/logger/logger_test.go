package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"clawbridge/pkg/config"
)

func TestJSONHandlerEmitsComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "debug"}, &buf)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.With("component", "responder.registry").Info("loaded responder", "name", "greet")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}

	if entry.Component != "responder.registry" {
		t.Fatalf("component = %q, want responder.registry", entry.Component)
	}
	if entry.Message != "loaded responder" {
		t.Fatalf("message = %q", entry.Message)
	}
	if entry.Fields["name"] != "greet" {
		t.Fatalf("fields[name] = %v, want greet", entry.Fields["name"])
	}
}

func TestJSONHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "warn"}, &buf)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("suppressed")
	log.Warn("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("log lines = %d, want 1", len(lines))
	}
	if !strings.Contains(lines[0], "visible") {
		t.Fatalf("unexpected line: %s", lines[0])
	}
}

func TestUnsupportedFormatRejected(t *testing.T) {
	if _, err := New(config.LoggingConfig{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestEnvOverridesFormat(t *testing.T) {
	t.Setenv("CLAWBRIDGE_LOG_FORMAT", "bogus")

	if _, err := New(config.LoggingConfig{Format: "json"}); err == nil {
		t.Fatal("expected error when env override is invalid")
	}
}

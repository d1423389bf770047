package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/scanlink/internal/infrastructure/config"
)

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"json", "text", ""} {
		logger := New(config.LoggingConfig{Level: "info", Format: format, Output: "stderr"}, "1.0.0")
		if logger == nil {
			t.Fatalf("New(format=%q) returned nil", format)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNewWithWriter_DefaultFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "test-build")

	logger.Component("pairing").Info("bonded", "address", "00:11:22:33:44:55")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}

	want := map[string]string{
		"msg":       "bonded",
		"service":   "scanlink",
		"version":   "test-build",
		"component": "pairing",
		"address":   "00:11:22:33:44:55",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("entry[%q] = %v, want %q", k, entry[k], v)
		}
	}
}

func TestNewWithWriter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "warn", Format: "text"}, "x")

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn record missing from output")
	}
}

func TestLogger_With(t *testing.T) {
	logger := Default()
	child := logger.With("component", "mqtt")

	if child == nil {
		t.Fatal("expected non-nil child logger")
	}
	if child == logger {
		t.Error("expected child logger to be different from parent")
	}
}

package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info(context.Background(), "event pushed", "user_id", "u-1", "type", "notification")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if record["msg"] != "event pushed" {
		t.Errorf("msg = %v, want %q", record["msg"], "event pushed")
	}
	if record["user_id"] != "u-1" {
		t.Errorf("user_id = %v, want u-1", record["user_id"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})

	logger.Debug(context.Background(), "debug message")
	logger.Info(context.Background(), "info message")
	if buf.Len() != 0 {
		t.Errorf("expected no output below warn level, got %q", buf.String())
	}

	logger.Warn(context.Background(), "warn message")
	if !strings.Contains(buf.String(), "warn message") {
		t.Errorf("warn message missing from output: %q", buf.String())
	}
}

func TestLoggerContextCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	ctx := AddRequestID(context.Background(), "req-9")
	ctx = AddSessionID(ctx, "sess-4")
	ctx = AddUserID(ctx, "u-7")
	logger.Info(ctx, "correlated")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if record["request_id"] != "req-9" {
		t.Errorf("request_id = %v, want req-9", record["request_id"])
	}
	if record["session_id"] != "sess-4" {
		t.Errorf("session_id = %v, want sess-4", record["session_id"])
	}
	if record["user_id"] != "u-7" {
		t.Errorf("user_id = %v, want u-7", record["user_id"])
	}
}

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info(context.Background(), "connect", "detail", "password: hunter2secret")

	out := buf.String()
	if strings.Contains(out, "hunter2secret") {
		t.Errorf("secret leaked into log output: %q", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker in output: %q", out)
	}
}

func TestLoggerDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	logger.Info(context.Background(), "defaults")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("default format should be JSON: %v", err)
	}
}

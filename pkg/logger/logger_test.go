package logger

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: "debug", Output: buf})

	ctx := context.Background()
	ctx = log.WithRequestID(ctx, "req-123")
	ctx = log.WithTransactionCode(ctx, "ISU1234520260101120000")

	log.Error(ctx, "boom", errors.New("boom"))

	if !bytes.Contains(buf.Bytes(), []byte("\"request_id\"")) {
		t.Fatalf("expected request_id to be preserved; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"transaction_code\"")) {
		t.Fatalf("expected transaction_code to be preserved; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected stack trace on error; entry=%s", buf.String())
	}
}

func TestLoggerWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: "debug", Output: buf, WarnStack: true})
	log.Warn(context.Background(), "warny")
	if !bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected stack when warn stack enabled")
	}

	buf.Reset()
	quiet := New(Options{ServiceName: "test", Output: buf})
	quiet.Warn(context.Background(), "warny")
	if bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("did not expect stack when warn stack disabled")
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if lvl := ParseLevel(""); lvl != zerolog.InfoLevel {
		t.Fatalf("expected default info level, got %v", lvl)
	}
	if lvl := ParseLevel("invalid"); lvl != zerolog.InfoLevel {
		t.Fatalf("invalid level should fallback to info, got %v", lvl)
	}
	if lvl := ParseLevel(" DEBUG "); lvl != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %v", lvl)
	}
}

func TestLoggerRedactsSensitiveFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf, Format: "json"})

	ctx := log.WithFields(context.Background(), map[string]any{
		"username": "desk-01",
		"Password": "hunter2",
	})
	ctx = log.WithField(ctx, "refresh_token", "opaque-secret")
	log.Info(ctx, "login attempt")

	out := buf.String()
	if strings.Contains(out, "hunter2") || strings.Contains(out, "opaque-secret") {
		t.Fatalf("secret leaked into log: %s", out)
	}
	if !strings.Contains(out, "desk-01") || !strings.Contains(out, redacted) {
		t.Fatalf("expected username and redaction marker: %s", out)
	}
}

func TestNewDefaultsToInfoLevel(t *testing.T) {
	log := New(Options{ServiceName: "test", Output: io.Discard, Format: "json"})
	if got := log.base.GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("expected info level by default, got %s", got)
	}
	if got := New(Options{Level: "bogus", Output: io.Discard}).base.GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("unknown level should fall back to info, got %s", got)
	}
	if got := New(Options{Level: "warn", Output: io.Discard}).base.GetLevel(); got != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %s", got)
	}
}

func TestLoggerDebugRespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf, Format: "json"})
	log.Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at info level: %s", buf.String())
	}

	verbose := New(Options{ServiceName: "test", Level: "debug", Output: buf, Format: "json"})
	verbose.Debug(context.Background(), "shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected debug entry")
	}
}

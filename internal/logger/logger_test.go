package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelInfo))

	log.Info("fetching", "uri", "https://example.com/1.json", "attempt", 2)

	line := buf.String()
	if !strings.Contains(line, "[INF] fetching uri=https://example.com/1.json attempt=2") {
		t.Errorf("unexpected line: %q", line)
	}

	if !strings.HasSuffix(line, "\n") {
		t.Error("line should end with newline")
	}
}

func TestHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelWarn))

	log.Info("hidden")
	log.Debug("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("records below level written: %q", out)
	}

	if !strings.Contains(out, "[WRN] shown") {
		t.Errorf("warn record missing: %q", out)
	}
}

func TestHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelDebug)).With("run", "abc")

	log.WithGroup("rpc").Debug("query", "offset", 401)

	out := buf.String()
	if !strings.Contains(out, "[DBG] query run=abc rpc.offset=401") {
		t.Errorf("unexpected line: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelInfo)).With("run", "r1")

	ctx := NewContext(context.Background(), log)
	FromContext(ctx).Warn("skipping record", "mint", "m")

	if !strings.Contains(buf.String(), "[WRN] skipping record run=r1 mint=m") {
		t.Errorf("unexpected line: %q", buf.String())
	}

	if FromContext(context.Background()) != slog.Default() {
		t.Error("empty context should yield the default logger")
	}
}

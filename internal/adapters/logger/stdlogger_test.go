package logger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"nonsense", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	l := newStdLogger(&buf, LevelWarn)

	l.Debug(ctx, "debug msg")
	l.Info(ctx, "info msg")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below threshold, got %q", buf.String())
	}

	l.Warn(ctx, "warn msg")
	l.Error(ctx, errors.New("boom"), "error msg")
	out := buf.String()
	if !strings.Contains(out, "[WARN] warn msg") {
		t.Errorf("missing warn line in %q", out)
	}
	if !strings.Contains(out, "[ERROR] error msg | error: boom") {
		t.Errorf("missing error line in %q", out)
	}
}

func TestFieldsSortedAndMerged(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	l := newStdLogger(&buf, LevelDebug)

	l.Info(ctx, "msg", map[string]interface{}{"zebra": 1, "apple": 2}, map[string]interface{}{"mid": 3})

	out := buf.String()
	if !strings.Contains(out, "| apple=2 mid=3 zebra=1") {
		t.Errorf("fields not sorted/merged: %q", out)
	}
}

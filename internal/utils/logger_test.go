package utils

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func newBufferedLogger(level LogLevel) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewLogger("test", level)
	l.logger = log.New(&buf, "[test] ", 0)
	return l, &buf
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   Debug,
		"INFO":    Info,
		"warn":    Warning,
		"warning": Warning,
		"error":   Error,
		"":        Info,
		"bogus":   Info,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferedLogger(Warning)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown", "credential_id", "abc")
	l.Error("also shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected debug/info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "[WARN] shown credential_id=abc") {
		t.Errorf("missing warn line, got %q", out)
	}
	if !strings.Contains(out, "[ERROR] also shown") {
		t.Errorf("missing error line, got %q", out)
	}
}

func TestLogger_With(t *testing.T) {
	l, buf := newBufferedLogger(Debug)

	l.With("request_id", "r1").Info("dispatch", "provider", "gemini")

	if !strings.Contains(buf.String(), "dispatch request_id=r1 provider=gemini") {
		t.Errorf("context pairs not merged, got %q", buf.String())
	}
}

func TestLogger_OddKeyvals(t *testing.T) {
	l, buf := newBufferedLogger(Debug)

	l.Info("msg", "dangling")

	if strings.Contains(buf.String(), "dangling") {
		t.Errorf("unpaired key should be dropped, got %q", buf.String())
	}
}

package logutil

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace)
	logger.Log(t.Context(), LevelTrace, "hello", "k", 1)

	out := buf.String()
	if !strings.Contains(out, "level=TRACE") {
		t.Errorf("erwartet level=TRACE, bekommen %q", out)
	}
	if !strings.Contains(out, "source=logutil_test.go:") {
		t.Errorf("erwartet kurzen Quelldateinamen, bekommen %q", out)
	}
}

func TestNewLoggerFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	logger.Debug("hidden")
	logger.Log(t.Context(), LevelTrace, "hidden too")
	if buf.Len() != 0 {
		t.Errorf("erwartet keine Ausgabe, bekommen %q", buf.String())
	}
}

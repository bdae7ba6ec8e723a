// Package testutil carries shared helpers for package tests: a slog logger
// routed through the testing framework and on-disk project fixtures.
package testutil

import (
	"bytes"
	"log/slog"
	"testing"
)

// NewTestLogger returns a debug-level logger whose output lands in t.Log,
// so pipeline logging shows up interleaved with test output under -v and
// stays quiet on passing runs.
func NewTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(&logSink{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// logSink adapts testing.TB to io.Writer, trimming the trailing newline
// the text handler emits so t.Log does not double-space entries.
type logSink struct {
	t testing.TB
}

func (s *logSink) Write(p []byte) (int, error) {
	s.t.Helper()
	s.t.Log(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

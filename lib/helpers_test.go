package lib

import (
	"io"
	"log/slog"
	"testing"
)

// testLogger returns a logger safe for use from goroutines that may
// outlive the test body (t.Logf would panic there).
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

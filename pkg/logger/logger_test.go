package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestNew_LevelSelection(t *testing.T) {
	quiet := New(false)
	if quiet.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug enabled without verbose")
	}
	if !quiet.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info disabled by default")
	}

	verbose := New(true)
	if !verbose.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug disabled with verbose")
	}
}

package barlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
)

func TestDiscard(t *testing.T) {
	logger := Discard()
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Discard() logger should report every level disabled")
	}
	logger.Info("should not panic")
}

func TestDefault(t *testing.T) {
	t.Run("nil returns discard", func(t *testing.T) {
		logger := Default(nil)
		if logger.Enabled(context.Background(), slog.LevelInfo) {
			t.Error("Default(nil) should return a discard logger")
		}
	})

	t.Run("non-nil returned unchanged", func(t *testing.T) {
		var buf bytes.Buffer
		original := slog.New(slog.NewTextHandler(&buf, nil))
		if Default(original) != original {
			t.Error("Default should return the same logger when non-nil")
		}
	})
}

func TestComponentFilterHandlerPerComponentLevel(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, nil)
	filter := NewComponentFilterHandler(base, slog.LevelInfo)
	filter.SetLevel("barstorage", slog.LevelDebug)

	logger := slog.New(filter)
	logger.With("component", "barstorage").Debug("debug from storage")
	logger.With("component", "barjob").Debug("debug from job")

	out := buf.String()
	if !bytes.Contains([]byte(out), []byte("debug from storage")) {
		t.Errorf("expected barstorage debug record to pass filter, got %q", out)
	}
	if bytes.Contains([]byte(out), []byte("debug from job")) {
		t.Errorf("expected barjob debug record to be filtered out, got %q", out)
	}
}

func TestComponentFilterHandlerClearLevel(t *testing.T) {
	var buf bytes.Buffer
	filter := NewComponentFilterHandler(slog.NewTextHandler(&buf, nil), slog.LevelWarn)
	filter.SetLevel("barjob", slog.LevelDebug)
	if got := filter.Level("barjob"); got != slog.LevelDebug {
		t.Fatalf("Level() = %v, want Debug", got)
	}
	filter.ClearLevel("barjob")
	if got := filter.Level("barjob"); got != slog.LevelWarn {
		t.Fatalf("Level() after ClearLevel = %v, want default Warn", got)
	}
}

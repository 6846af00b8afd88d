package cli

import (
	"log/slog"
	"testing"

	"pairxpenses/internal/config"
	"pairxpenses/internal/log"
)

func TestNewLogger(t *testing.T) {
	cfg := &config.Config{LogLevel: "debug", LogFormat: log.FormatJSON}
	logger := NewLogger(cfg, log.ComponentWorker)

	if got := logger.Component(); got != log.ComponentWorker {
		t.Errorf("Component() = %q, want %q", got, log.ComponentWorker)
	}
	if !logger.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("debug level not enabled")
	}
}

func TestNewLoggerUnknownLevel(t *testing.T) {
	cfg := &config.Config{LogLevel: "chatty", LogFormat: log.FormatText}
	logger := NewLogger(cfg, "")

	if logger.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("unknown level should fall back to info")
	}
	if got := logger.Component(); got != log.ComponentApp {
		t.Errorf("Component() = %q, want default %q", got, log.ComponentApp)
	}
}

// Package logging builds the process logger.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/ashureev/shsh-support/internal/config"
	"github.com/ashureev/shsh-support/internal/diagnostics"
)

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a logger writing to w in the configured format, plus the
// per-device rings that keep recent records for support tickets.
func New(cfg config.LogConfig, w io.Writer) (*slog.Logger, *diagnostics.DeviceLogs) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var primary slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		primary = slog.NewTextHandler(w, opts)
	} else {
		primary = slog.NewJSONHandler(w, opts)
	}

	logs := diagnostics.NewDeviceLogs(cfg.RingBytes, cfg.RingDevices)
	handler := diagnostics.NewTeeHandler(primary, logs, ParseLevel(cfg.RingLevel))
	return slog.New(handler), logs
}

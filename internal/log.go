package internal

import (
	"context"
	"log/slog"
)

// LevelTrace sits below slog.LevelDebug for the highest-volume per-packet
// diagnostics (ARP retry ticks, NAT table scans) that would otherwise
// drown out regular debug output.
const LevelTrace slog.Level = slog.LevelDebug - 2

// LogEnabled reports whether l would emit a record at lvl, allowing
// callers to skip building attrs for a disabled level.
func LogEnabled(l *slog.Logger, lvl slog.Level) bool {
	return l != nil && l.Handler().Enabled(context.Background(), lvl)
}

// LogAttrs is the shared entry point used by every package-local logger
// helper type in this module.
func LogAttrs(l *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if l != nil {
		l.LogAttrs(context.Background(), level, msg, attrs...)
	}
}

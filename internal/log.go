package internal

import (
	"context"
	"log/slog"
)

// LevelTrace is below Debug and used for per-PDU logging.
const LevelTrace slog.Level = slog.LevelDebug - 2

// LogEnabled reports whether l would log at lvl. A nil logger logs nothing.
func LogEnabled(l *slog.Logger, lvl slog.Level) bool {
	return HeapAllocDebugging || (l != nil && l.Handler().Enabled(context.Background(), lvl))
}

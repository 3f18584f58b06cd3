// Package logging adapts the standard library's log/slog to the small
// sugared-logger interfaces (Infow/Warnw/Errorw) that the watchengine and
// eventdb adapters accept, so santa-core can hand them a single *slog.Logger
// without those packages importing log/slog directly.
package logging

import "log/slog"

// Sugar wraps a *slog.Logger to satisfy watchengine.Logger and
// eventdb.Logger's key-value logging methods.
type Sugar struct {
	l *slog.Logger
}

// NewSugar wraps logger. A nil logger falls back to slog.Default().
func NewSugar(logger *slog.Logger) Sugar {
	if logger == nil {
		logger = slog.Default()
	}
	return Sugar{l: logger}
}

func (s Sugar) Infow(msg string, keysAndValues ...interface{}) {
	s.l.Info(msg, keysAndValues...)
}

func (s Sugar) Warnw(msg string, keysAndValues ...interface{}) {
	s.l.Warn(msg, keysAndValues...)
}

func (s Sugar) Errorw(msg string, keysAndValues ...interface{}) {
	s.l.Error(msg, keysAndValues...)
}

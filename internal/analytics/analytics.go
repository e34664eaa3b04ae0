// Package analytics defines the fire-and-forget metric emission contract
// the transition engine uses. Analytics failures never affect a
// transition's outcome; Sink implementations must never return an error
// to the caller for that reason — Emit has no return value.
package analytics

import (
	"log/slog"

	"github.com/finpal/reengage/internal/models"
)

// Sink receives state_changed, goodbye_response, and unprompted_return
// events emitted by the transition engine. Real delivery (a metrics
// backend, an event bus) lives outside this module.
type Sink interface {
	Emit(event models.AnalyticsEvent)
}

// LoggingSink is the stand-in Sink used when no external analytics
// backend is wired: it logs each event at debug level and otherwise does
// nothing, so the engine's analytics calls are never no-ops during
// development or in the ops CLI.
type LoggingSink struct {
	Logger *slog.Logger
}

// NewLoggingSink returns a LoggingSink using slog.Default() if logger is nil.
func NewLoggingSink(logger *slog.Logger) *LoggingSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingSink{Logger: logger}
}

// Emit implements Sink.
func (s *LoggingSink) Emit(event models.AnalyticsEvent) {
	s.Logger.Debug("analytics event", "kind", event.Kind, "fields", event.Fields)
}

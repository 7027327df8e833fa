package obslog

import (
	"log/slog"
	"os"
)

// InitStructured reconfigures the operational logger based on config.
// format: "text" (default) or "json". level: "debug", "info", "warn", "error".
func InitStructured(format, level string) {
	SetLevelFromString(level)

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	opLogger.Store(slog.New(handler))
}

// WithCorrelation returns the operational logger annotated with a
// delivery's correlation id, so a single delivery's log lines can be
// grepped together.
func WithCorrelation(correlationID string) *slog.Logger {
	l := Op()
	if correlationID == "" {
		return l
	}
	return l.With("correlation_id", correlationID)
}

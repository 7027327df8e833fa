// Package obslog provides the operational logging facade used throughout
// the worker runtime. It is adapted from the teacher's internal/logging
// package: a single atomic-pointer slog.Logger exposed via Op(), with a
// runtime-adjustable level and a text/json format switch.
//
// Per spec §9 ("Global logging interception"): the source patches a
// third-party sink into the standard logging module, which is glue, not
// core behavior. This runtime does the opposite on purpose — it exposes a
// single facade (Op) and lets the outer program (cmd/worker) decide the
// handler, exactly as spec §9 recommends.
package obslog

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	opLogger atomic.Pointer[slog.Logger]
	logLevel = new(slog.LevelVar)
)

func init() {
	logLevel.Set(slog.LevelInfo)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	opLogger.Store(slog.New(handler))
}

// Op returns the operational logger used by the logging components
// (dispatcher, publisher, runner, broker, progress, notify) for their
// WARN/ERROR paths (spec §7).
func Op() *slog.Logger {
	return opLogger.Load()
}

// SetLevel changes the level for the operational logger.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLevelFromString sets the log level from a config/env string. Unknown
// values are ignored, leaving the current level unchanged.
func SetLevelFromString(level string) {
	switch level {
	case "debug", "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "info", "INFO":
		logLevel.Set(slog.LevelInfo)
	case "warn", "WARN", "warning", "WARNING":
		logLevel.Set(slog.LevelWarn)
	case "error", "ERROR":
		logLevel.Set(slog.LevelError)
	}
}

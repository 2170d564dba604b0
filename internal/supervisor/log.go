// Package supervisor carries the process-level concerns of the worker pool
// (startup/shutdown logging, dispatcher lifecycle) that outlive any single
// document. It deliberately uses zap instead of slog: the pipeline's
// per-document logs are request-scoped and use internal/logger, while this
// package logs events that span the whole process lifetime.
package supervisor

import "go.uber.org/zap"

var log *zap.Logger

// InitLogger creates the process-wide zap logger used by the supervisor.
func InitLogger() error {
	l, err := zap.NewProduction()
	if err != nil {
		return err
	}
	log = l
	return nil
}

// Log returns the supervisor logger, creating a fallback production logger
// if InitLogger was never called.
func Log() *zap.Logger {
	if log == nil {
		log, _ = zap.NewProduction()
	}
	return log
}

// Sync flushes the logger's buffer. Call on process shutdown.
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}

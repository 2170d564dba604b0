// Package logger provides centralized logging functionality for the chunk
// materialization pipeline. It follows Uber Go Style Guide conventions for
// error handling and naming.
package logger

import (
	"fmt"
	"log/slog"
	"os"
)

var (
	// instance holds the global logger instance.
	// Using unexported variable to control access through methods.
	instance *slog.Logger
)

// InitError represents logger initialization errors.
type InitError struct {
	Op  string // the operation that failed
	Err error  // the underlying error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("logger: %s failed: %v", e.Op, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Init initializes the global logger with a production-style JSON handler.
func Init() error {
	return InitWithConfig(slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
}

// InitWithConfig initializes the logger with custom slog handler options.
func InitWithConfig(opts slog.HandlerOptions) error {
	handler := slog.NewJSONHandler(os.Stdout, &opts)
	instance = slog.New(handler)
	return nil
}

// Get returns the global logger instance, lazily initializing a default one.
func Get() *slog.Logger {
	if instance == nil {
		_ = Init()
	}
	return instance
}

// MustGet returns the global logger instance or panics if not initialized.
func MustGet() *slog.Logger {
	if instance == nil {
		panic("logger: not initialized, call Init() first")
	}
	return instance
}

// Sync flushes any buffered log entries if supported by the handler.
func Sync() error {
	if instance == nil {
		return nil
	}

	type syncer interface {
		Sync() error
	}
	if s, ok := instance.Handler().(syncer); ok {
		return s.Sync()
	}
	if c, ok := instance.Handler().(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// IsInitialized reports whether the logger has been initialized.
func IsInitialized() bool {
	return instance != nil
}

// WithDoc returns a logger scoped to a single document, the unit every
// pipeline stage logs against.
func WithDoc(docID string) *slog.Logger {
	return Get().With("doc_id", docID)
}

package dbqueue

import "go.uber.org/zap"

// Logger provides structured logging hooks. *slog.Logger satisfies it.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)
	// Info logs an informational message.
	Info(msg string, args ...any)
	// Warn logs a warning message.
	Warn(msg string, args ...any)
	// Error logs an error message.
	Error(msg string, args ...any)
}

// NopLogger is a no-op logger.
type NopLogger struct{}

// Debug implements Logger.
func (NopLogger) Debug(string, ...any) {}

// Info implements Logger.
func (NopLogger) Info(string, ...any) {}

// Warn implements Logger.
func (NopLogger) Warn(string, ...any) {}

// Error implements Logger.
func (NopLogger) Error(string, ...any) {}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger adapts a zap logger to Logger. Args are key-value pairs.
func NewZapLogger(logger *zap.Logger) Logger {
	if logger == nil {
		return NopLogger{}
	}

	return zapLogger{sugar: logger.Sugar()}
}

// Debug implements Logger.
func (l zapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }

// Info implements Logger.
func (l zapLogger) Info(msg string, args ...any) { l.sugar.Infow(msg, args...) }

// Warn implements Logger.
func (l zapLogger) Warn(msg string, args ...any) { l.sugar.Warnw(msg, args...) }

// Error implements Logger.
func (l zapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

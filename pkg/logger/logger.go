package logger

import (
	"go.uber.org/zap"
)

var Logger *zap.Logger

// Init initializes the global logger
func Init(debug bool) error {
	var config zap.Config

	if debug {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}

	logger, err := config.Build()
	if err != nil {
		return err
	}

	Logger = logger
	return nil
}

// log returns the configured logger, or a nop logger before Init was called
// so that library code and tests can log unconditionally.
func log() *zap.Logger {
	if Logger == nil {
		return zap.NewNop()
	}
	return Logger
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	log().Debug(msg, fields...)
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	log().Info(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	log().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	log().Error(msg, fields...)
}

// Fatal logs a fatal message and exits
func Fatal(msg string, fields ...zap.Field) {
	log().Fatal(msg, fields...)
}

// Sync flushes any buffered log entries
func Sync() error {
	return log().Sync()
}

// Package logging provides the gateway's shared zap logger. The active
// logger is published through an atomic pointer, same as the cache
// snapshots, so request-path log calls never take a lock.
package logging

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global atomic.Pointer[zap.Logger]

func init() {
	l, _ := zap.NewProduction()
	global.Store(l)
}

// New builds a JSON logger at the given level. Unrecognized levels fall
// back to info; config validation rejects them before this runs.
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := zapcore.InfoLevel
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	// Callers go through the package-level functions below.
	return cfg.Build(zap.AddCallerSkip(1))
}

// SetGlobal swaps the logger used by the package-level functions.
func SetGlobal(l *zap.Logger) {
	global.Store(l)
}

// Debug logs at debug level.
func Debug(msg string, fields ...zap.Field) {
	global.Load().Debug(msg, fields...)
}

// Info logs at info level.
func Info(msg string, fields ...zap.Field) {
	global.Load().Info(msg, fields...)
}

// Warn logs at warn level.
func Warn(msg string, fields ...zap.Field) {
	global.Load().Warn(msg, fields...)
}

// Error logs at error level.
func Error(msg string, fields ...zap.Field) {
	global.Load().Error(msg, fields...)
}

// Sync flushes buffered entries. Called on shutdown.
func Sync() {
	global.Load().Sync()
}

// Package logging provides the structured logger used by the patch engine
// and the CLI.
package logging

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging for patch operations.
type Logger struct {
	zap *zap.Logger
}

// New creates a Logger that writes JSON lines to logPath.
// If logPath is empty, logging is disabled.
// If development is true, debug entries are kept and the encoder uses
// development field names.
func New(logPath string, development bool) (*Logger, error) {
	if logPath == "" {
		return Nop(), nil
	}

	if dir := filepath.Dir(logPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	var encoderConfig zapcore.EncoderConfig
	level := zapcore.InfoLevel
	if development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		level = zapcore.DebugLevel
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(logFile),
		level,
	)

	return &Logger{zap: zap.New(core)}, nil
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// Close syncs the logger (should be called on shutdown).
func (l *Logger) Close() error {
	return l.zap.Sync()
}

// PatchExtracted logs the dialect and size of a patch found in model output.
func (l *Logger) PatchExtracted(dialect string, segments int, explanationLen int) {
	l.zap.Info("patch extracted",
		zap.String("dialect", dialect),
		zap.Int("segments", segments),
		zap.Int("explanation_len", explanationLen),
	)
}

// FileApplied logs a committed change to one file.
func (l *Logger) FileApplied(path, action string, strategies []string, duration time.Duration) {
	fields := []zap.Field{
		zap.String("path", path),
		zap.String("action", action),
		zap.Duration("duration", duration),
	}
	if len(strategies) > 0 {
		fields = append(fields, zap.Strings("strategies", strategies))
	}
	l.zap.Info("file applied", fields...)
}

// FileFailed logs a per-file failure.
func (l *Logger) FileFailed(path, kind string, err error) {
	l.zap.Warn("file failed",
		zap.String("path", path),
		zap.String("kind", kind),
		zap.Error(err),
	)
}

// Rollback logs that a file was restored to its previous content.
func (l *Logger) Rollback(path string, reason string) {
	l.zap.Info("rollback",
		zap.String("path", path),
		zap.String("reason", reason),
	)
}

// SessionSaved logs persistence of a session's file map.
func (l *Logger) SessionSaved(sessionID string, files int, messages int) {
	l.zap.Info("session saved",
		zap.String("session", sessionID),
		zap.Int("files", files),
		zap.Int("messages", messages),
	)
}

// Error logs an error.
func (l *Logger) Error(msg string, err error) {
	l.zap.Error(msg, zap.Error(err))
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(msg, fields...)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zap.Debug(msg, fields...)
}

// Package logging sets up the application's structured loggers.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

var structuredLogger *slog.Logger

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

// Add trace and fatal level names.
var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

func newHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				level := a.Value.Any().(slog.Level)
				levelLabel, exists := levelNames[level]
				if !exists {
					levelLabel = level.String()
				}
				a.Value = slog.StringValue(levelLabel)
			}
			return a
		},
	})
}

// Init initializes the logging system with a structured JSON logger on
// stdout and installs it as the process default.
func Init(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	structuredLogger = slog.New(newHandler(os.Stdout, level))
	slog.SetDefault(structuredLogger)
}

// ForService returns a logger with the service name attached to every record.
func ForService(serviceName string) *slog.Logger {
	if structuredLogger == nil {
		Init(false)
	}
	return structuredLogger.With("service", serviceName)
}

// NewFileLogger returns a logger writing rotated JSON logs to the given
// path. Rotation settings follow the usual operational defaults: 10 MiB
// per file, up to 5 old files kept for 30 days.
func NewFileLogger(path string, level slog.Level) (*slog.Logger, func() error) {
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	return slog.New(newHandler(rotator, level)), rotator.Close
}

// Debug logs a debug message using the default slog logger.
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

// Info logs an info message using the default slog logger.
func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

// Warn logs a warning message using the default slog logger.
func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// Error logs an error message using the default slog logger.
func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}

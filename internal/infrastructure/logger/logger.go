package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/port"
)

// ParseLevel converts a string to a logrus level, defaulting to info
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger is an implementation of port.Logger on top of logrus
type Logger struct {
	base   *logrus.Logger
	entry  *logrus.Entry
	closer io.Closer
}

// NewLogger creates a new Logger instance writing text lines to writer
func NewLogger(writer io.Writer, level string) *Logger {
	base := logrus.New()
	base.Out = writer
	base.Level = ParseLevel(level)
	base.Formatter = &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	}
	return FromLogrus(base)
}

// FromLogrus wraps an existing logrus logger
func FromLogrus(base *logrus.Logger) *Logger {
	l := &Logger{base: base, entry: logrus.NewEntry(base)}
	if closer, ok := base.Out.(io.Closer); ok && base.Out != os.Stdout && base.Out != os.Stderr {
		l.closer = closer
	}
	return l
}

// SetJSON switches the output to one JSON object per line
func (l *Logger) SetJSON(enabled bool) {
	if enabled {
		l.base.Formatter = &logrus.JSONFormatter{}
		return
	}
	l.base.Formatter = &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"}
}

// SetLevel changes the logging level
func (l *Logger) SetLevel(level string) {
	l.base.SetLevel(ParseLevel(level))
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// WithField returns a logger sharing the same output with key=value attached
func (l *Logger) WithField(key string, value interface{}) port.Logger {
	return &Logger{base: l.base, entry: l.entry.WithField(key, value)}
}

// Close closes the writer if it is a file sink
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// NewRotatingWriter returns a size-rotated file writer for filePath
func NewRotatingWriter(filePath string) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create log directory")
	}
	return &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}, nil
}

// NewFileLogger creates a logger that writes to stdout and to a rotated file
func NewFileLogger(filePath string, level string) (*Logger, error) {
	file, err := NewRotatingWriter(filePath)
	if err != nil {
		return nil, err
	}
	l := NewLogger(io.MultiWriter(os.Stdout, file), level)
	l.closer = file
	return l, nil
}

// Ensure Logger implements port.Logger
var _ port.Logger = (*Logger)(nil)

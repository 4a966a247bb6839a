package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"camstream/internal/config"
)

// LogFileName is the file written inside the configured log directory.
const LogFileName = "camstream.log"

// Fields is structured context attached to log entries.
type Fields = logrus.Fields

// Logger provides leveled logging (debug/info/warning/error) to stdout and,
// when a log directory is configured, to a file.
type Logger struct {
	entry *logrus.Entry
	file  *os.File
}

// NewLogger creates a Logger from configuration and ensures the log
// directory exists.
func NewLogger(cfg *config.Config) (*Logger, error) {
	var out io.Writer = os.Stdout
	var file *os.File

	if cfg.LogDirectory != "" {
		if err := os.MkdirAll(cfg.LogDirectory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(cfg.LogDirectory, LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		out = io.MultiWriter(os.Stdout, f)
	}

	l := New(out, cfg.LogLevel)
	l.file = file
	return l, nil
}

// New creates a Logger writing to out. Unknown levels fall back to info.
func New(out io.Writer, level string) *Logger {
	base := logrus.New()
	base.SetOutput(out)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)

	return &Logger{entry: logrus.NewEntry(base)}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, "panic")
}

// WithFields returns a child Logger that adds fields to every entry.
func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

// With is WithFields for a single key.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// Debug writes a formatted debug-level log entry.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.entry.Debugf(format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.entry.Infof(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.entry.Warnf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.entry.Errorf(format, v...)
}

// Writer returns a pipe that logs each line written to it at warning
// level, for attaching to a child process's stderr. Close it when done.
func (l *Logger) Writer() *io.PipeWriter {
	return l.entry.WriterLevel(logrus.WarnLevel)
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

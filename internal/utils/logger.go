package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Logger writes leveled, timestamped lines to a log file or stderr.
// A nil *Logger discards everything, so components can take one optionally.
type Logger struct {
	zl   zerolog.Logger
	file *os.File
}

// ParseLevel maps a verbosity name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// NewLogger opens logFile for appending and logs there at the given level.
// An empty path, or one that cannot be opened, logs to stderr instead.
func NewLogger(logFile, level string) *Logger {
	logger := &Logger{}
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}
	var openErr error
	if logFile != "" {
		_ = os.MkdirAll(filepath.Dir(logFile), 0o755)
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			openErr = err
		} else {
			logger.file = f
			out = f
		}
	}
	logger.zl = zerolog.New(out).Level(ParseLevel(level)).With().Timestamp().Logger()
	if openErr != nil {
		logger.Warnf("error opening log file (%s): %v; logging to stderr", logFile, openErr)
	}
	return logger
}

// NewWriterLogger logs JSON lines to w. Used by tests to capture output.
func NewWriterLogger(w io.Writer, level string) *Logger {
	return &Logger{zl: zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()}
}

// With returns a child logger tagged with a component name.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{zl: l.zl.With().Str("component", component).Logger(), file: l.file}
}

// Write logs message at info level.
func (l *Logger) Write(message string) {
	l.Infof("%s", message)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.zl.Debug().Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.zl.Info().Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.zl.Warn().Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.zl.Error().Msg(fmt.Sprintf(format, args...))
}

// Writer returns an io.Writer that logs each write as one debug line.
// Gin's request logger is pointed at it.
func (l *Logger) Writer() io.Writer {
	return lineWriter{l: l}
}

type lineWriter struct{ l *Logger }

func (w lineWriter) Write(p []byte) (int, error) {
	w.l.Debugf("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// Close flushes and closes the log file when one is open.
func (l *Logger) Close() {
	if l == nil || l.file == nil {
		return
	}
	_ = l.file.Sync()
	_ = l.file.Close()
}

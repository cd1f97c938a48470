package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to a Level, falling back to INFO.
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "ERROR":
		return LevelError
	case "WARN", "WARNING":
		return LevelWarn
	case "DEBUG":
		return LevelDebug
	default:
		return LevelInfo
	}
}

type Logger struct {
	level  Level
	mu     sync.Mutex
	output io.Writer
	file   *os.File
	now    func() time.Time
}

func New(level string) *Logger {
	return &Logger{
		level:  ParseLevel(level),
		output: os.Stdout,
		now:    time.Now,
	}
}

// NewFromEnv builds a logger from LOG_LEVEL and LOG_FILE.
func NewFromEnv() *Logger {
	return NewWithFile(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FILE"))
}

// NewWithFile builds a logger at level that also writes to logFile when it
// is set. A file that cannot be opened is reported and skipped.
func NewWithFile(level, logFile string) *Logger {
	l := New(level)

	if logFile != "" {
		if err := l.SetLogFile(logFile); err != nil {
			l.Warn("Could not open log file %s, logging to stdout only: %v", logFile, err)
		}
	}

	return l
}

// SetLogFile tees output to filePath in addition to stdout.
func (l *Logger) SetLogFile(filePath string) error {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}
	l.file = file
	l.output = io.MultiWriter(os.Stdout, file)

	return nil
}

func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.output = os.Stdout
	return err
}

func (l *Logger) Enabled(level Level) bool {
	return level <= l.level
}

func (l *Logger) log(level Level, fields string, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}

	message := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] [%s] %s%s", l.now().Format("2006-01-02 15:04:05"), level.String(), message, fields)

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintln(l.output, line)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, "", format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, "", format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, "", format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, "", format, args...)
}

func (l *Logger) WithFields(fields map[string]interface{}) *Entry {
	e := &Entry{logger: l, fields: make(map[string]interface{}, len(fields))}
	for k, v := range fields {
		e.fields[k] = v
	}
	return e
}

// WithComponent tags every line with component=name.
func (l *Logger) WithComponent(name string) *Entry {
	return l.WithFields(map[string]interface{}{"component": name})
}

type Entry struct {
	logger *Logger
	fields map[string]interface{}
}

// WithFields returns a new entry carrying e's fields plus fields; e is unchanged.
func (e *Entry) WithFields(fields map[string]interface{}) *Entry {
	merged := make(map[string]interface{}, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{logger: e.logger, fields: merged}
}

func (e *Entry) WithField(key string, value interface{}) *Entry {
	return e.WithFields(map[string]interface{}{key: value})
}

func (e *Entry) formatFields() string {
	if len(e.fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, e.fields[k]))
	}
	return " " + strings.Join(pairs, " ")
}

func (e *Entry) Error(format string, args ...interface{}) {
	e.logger.log(LevelError, e.formatFields(), format, args...)
}

func (e *Entry) Warn(format string, args ...interface{}) {
	e.logger.log(LevelWarn, e.formatFields(), format, args...)
}

func (e *Entry) Info(format string, args ...interface{}) {
	e.logger.log(LevelInfo, e.formatFields(), format, args...)
}

func (e *Entry) Debug(format string, args ...interface{}) {
	e.logger.log(LevelDebug, e.formatFields(), format, args...)
}

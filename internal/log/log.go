// Package log provides structured logging for tmscope.
// Entries carry a level, a category and key=value fields. Every entry is also
// published on a broker so tests and tools can observe diagnostics such as
// tokenizer loop recovery without reading the log file.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zjrosen/tmscope/internal/pubsub"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Category groups related log messages.
type Category string

const (
	CatGrammar   Category = "grammar"   // Rule compilation and invalidation
	CatTokenizer Category = "tokenizer" // Line scanning and loop recovery
	CatRegistry  Category = "registry"  // Grammar registration, selection, loading
	CatConfig    Category = "config"    // Configuration loading/saving
	CatWatcher   Category = "watcher"   // Grammar file watcher events
	CatCache     Category = "cache"     // Cache operations
	CatDocument  Category = "document"  // Incremental document tokenization
)

// Entry is a structured log record as published to subscribers.
type Entry struct {
	Time     time.Time
	Level    Level
	Category Category
	Message  string
	Fields   []any
	Line     string // formatted form written to the sink
}

// Field returns the value logged under key, if any.
func (e Entry) Field(key string) (any, bool) {
	for i := 0; i+1 < len(e.Fields); i += 2 {
		if k, ok := e.Fields[i].(string); ok && k == key {
			return e.Fields[i+1], true
		}
	}
	return nil, false
}

// Logger provides structured logging.
type Logger struct {
	mu       sync.Mutex
	writer   io.Writer
	enabled  bool
	minLevel Level
	broker   *pubsub.Broker[Entry]
}

var defaultLogger = &Logger{
	minLevel: LevelDebug,
	broker:   pubsub.NewBroker[Entry](),
}

// Init sends log output to the file at path.
// Returns a cleanup function to close the log file.
func Init(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // G304: path is user-controlled debug log path
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	setSink(f)
	return func() { _ = f.Close() }, nil
}

// InitWithTeaLog uses tea.LogToFile for initialization.
func InitWithTeaLog(path string, prefix string) (func(), error) {
	f, err := tea.LogToFile(path, prefix)
	if err != nil {
		return nil, err
	}
	setSink(f)
	return func() { _ = f.Close() }, nil
}

// InitWriter sends log output to w. Useful for tests and for --verbose
// output on stderr.
func InitWriter(w io.Writer) {
	setSink(w)
}

func setSink(w io.Writer) {
	defaultLogger.mu.Lock()
	defaultLogger.writer = w
	defaultLogger.enabled = true
	defaultLogger.mu.Unlock()
}

// SetEnabled toggles writing to the sink on/off. Subscribers keep receiving
// entries either way.
func SetEnabled(enabled bool) {
	defaultLogger.mu.Lock()
	defaultLogger.enabled = enabled
	defaultLogger.mu.Unlock()
}

// SetMinLevel sets the minimum log level.
func SetMinLevel(level Level) {
	defaultLogger.mu.Lock()
	defaultLogger.minLevel = level
	defaultLogger.mu.Unlock()
}

// Subscribe returns a channel of log entries that is closed when ctx is
// cancelled.
func Subscribe(ctx context.Context) <-chan pubsub.Event[Entry] {
	return defaultLogger.broker.Subscribe(ctx)
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) {
	log(LevelDebug, cat, msg, fields...)
}

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) {
	log(LevelInfo, cat, msg, fields...)
}

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) {
	log(LevelWarn, cat, msg, fields...)
}

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) {
	log(LevelError, cat, msg, fields...)
}

// ErrorErr logs an error with the error value.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	if err != nil {
		fields = append(fields, "error", err.Error())
	} else {
		fields = append(fields, "error", "<nil>")
	}
	log(LevelError, cat, msg, fields...)
}

func log(level Level, cat Category, msg string, fields ...any) {
	l := defaultLogger
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.minLevel {
		return
	}
	noSink := !l.enabled || l.writer == nil
	if noSink && l.broker.SubscriberCount() == 0 {
		return
	}

	now := time.Now()
	entry := Entry{
		Time:     now,
		Level:    level,
		Category: cat,
		Message:  msg,
		Fields:   fields,
		Line:     format(now, level, cat, msg, fields),
	}

	if !noSink {
		_, _ = l.writer.Write([]byte(entry.Line))
	}
	l.broker.Publish(pubsub.LoggedEvent, entry)
}

// format renders: 2025-12-06T10:45:00 [WARN] [tokenizer] message key=value
func format(ts time.Time, level Level, cat Category, msg string, fields []any) string {
	line := fmt.Sprintf("%s [%s] [%s] %s", ts.Format("2006-01-02T15:04:05"), level, cat, msg)
	for i := 0; i+1 < len(fields); i += 2 {
		line += fmt.Sprintf(" %v=%v", fields[i], fields[i+1])
	}
	if len(fields)%2 != 0 {
		line += fmt.Sprintf(" %v=<missing>", fields[len(fields)-1])
	}
	return line + "\n"
}

// Package logging is a small leveled logger with string fields. Entries are
// written to an io.Writer as logfmt lines and kept in a LogBuffer.
package logging

import (
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const DefaultBufferSize = 1000

// Field keys shared by every component that logs through a Logger.
const (
	FieldCategory = "pathwatch.category"
	FieldSession  = "pathwatch.session"
)

// sink is shared by a Logger and everything derived from it with With.
type sink struct {
	mu     sync.Mutex
	output io.Writer
	buffer *LogBuffer
	now    func() time.Time
}

func (s *sink) write(entry LogEntry) {
	s.buffer.Add(entry)
	line := formatEntry(entry)
	s.mu.Lock()
	_, _ = io.WriteString(s.output, line)
	s.mu.Unlock()
}

type Logger struct {
	sink     *sink
	minLevel Level
	fields   map[string]string
}

func NewLogger(buffer *LogBuffer, minLevel Level) *Logger {
	return NewLoggerWithOutput(buffer, minLevel, os.Stderr)
}

func NewLoggerWithOutput(buffer *LogBuffer, minLevel Level, output io.Writer) *Logger {
	if buffer == nil {
		buffer = NewLogBuffer(DefaultBufferSize)
	}
	if output == nil {
		output = io.Discard
	}
	if _, ok := ParseLevel(string(minLevel)); !ok {
		minLevel = LevelInfo
	}
	return &Logger{
		sink: &sink{
			output: output,
			buffer: buffer,
			now:    func() time.Time { return time.Now().UTC() },
		},
		minLevel: minLevel,
	}
}

// Discard returns a logger that drops everything. Components fall back to it
// when constructed without one.
func Discard() *Logger {
	return NewLoggerWithOutput(NewLogBuffer(1), LevelError, io.Discard)
}

func (l *Logger) Buffer() *LogBuffer {
	if l == nil {
		return nil
	}
	return l.sink.buffer
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{
		sink:     l.sink,
		minLevel: l.minLevel,
		fields:   mergeFields(l.fields, fields),
	}
}

// Category is shorthand for With on the category field.
func (l *Logger) Category(name string) *Logger {
	return l.With(map[string]string{FieldCategory: name})
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.log(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.log(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.log(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.log(LevelError, message, fields)
}

func (l *Logger) Enabled(level Level) bool {
	return l != nil && level.AtLeast(l.minLevel)
}

func (l *Logger) log(level Level, message string, fields map[string]string) {
	if !l.Enabled(level) {
		return
	}
	l.sink.write(LogEntry{
		Timestamp: l.sink.now(),
		Level:     level,
		Message:   message,
		Context:   mergeFields(l.fields, fields),
	})
}

func mergeFields(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range extra {
		merged[key] = value
	}
	return merged
}

// formatEntry renders one logfmt line with the fields sorted by key.
func formatEntry(entry LogEntry) string {
	var line strings.Builder
	line.WriteString("time=")
	line.WriteString(entry.Timestamp.Format(time.RFC3339Nano))
	line.WriteString(" level=")
	line.WriteString(string(entry.Level))
	line.WriteString(" msg=")
	line.WriteString(strconv.Quote(entry.Message))

	keys := make([]string, 0, len(entry.Context))
	for key := range entry.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		line.WriteString(" ")
		line.WriteString(key)
		line.WriteString("=")
		line.WriteString(strconv.Quote(entry.Context[key]))
	}
	line.WriteString("\n")
	return line.String()
}

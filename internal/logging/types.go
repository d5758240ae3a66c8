package logging

import (
	"strings"
	"time"
)

// Level orders log entries; the zero Level is treated as info.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

func ParseLevel(value string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warning", "warn":
		return LevelWarning, true
	case "error":
		return LevelError, true
	default:
		return "", false
	}
}

func (level Level) rank() int {
	switch level {
	case LevelDebug:
		return 0
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

// AtLeast reports whether level is as severe as min. An empty min accepts
// every level.
func (level Level) AtLeast(min Level) bool {
	if min == "" {
		return true
	}
	return level.rank() >= min.rank()
}

type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}

// Category returns the component that logged the entry, if any.
func (entry LogEntry) Category() string {
	return entry.Context[FieldCategory]
}

// Query selects buffered entries. Zero fields do not filter; Limit keeps the
// newest matches.
type Query struct {
	MinLevel Level
	Since    time.Time
	Category string
	Limit    int
}

func (query Query) matches(entry LogEntry) bool {
	if !entry.Level.AtLeast(query.MinLevel) {
		return false
	}
	if !query.Since.IsZero() && entry.Timestamp.Before(query.Since) {
		return false
	}
	return query.Category == "" || entry.Category() == query.Category
}

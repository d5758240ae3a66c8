package logging

import (
	"sync"

	"pathwatch/internal/buffer"
)

// LogBuffer keeps the newest entries in memory for the /logs endpoint.
type LogBuffer struct {
	mu      sync.Mutex
	entries *buffer.Ring[LogEntry]
}

func NewLogBuffer(size int) *LogBuffer {
	return &LogBuffer{entries: buffer.NewRing[LogEntry](size)}
}

func (b *LogBuffer) Add(entry LogEntry) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.entries.Add(entry)
	b.mu.Unlock()
}

// List returns every buffered entry, oldest first.
func (b *LogBuffer) List() []LogEntry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.List()
}

// Query returns the buffered entries accepted by query, oldest first.
func (b *LogBuffer) Query(query Query) []LogEntry {
	entries := b.List()
	matched := make([]LogEntry, 0, len(entries))
	for _, entry := range entries {
		if query.matches(entry) {
			matched = append(matched, entry)
		}
	}
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[len(matched)-query.Limit:]
	}
	return matched
}

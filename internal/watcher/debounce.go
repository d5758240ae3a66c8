package watcher

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"pathwatch/internal/backend"
)

type debounceEntry struct {
	timer *clock.Timer
	event backend.RawEvent
}

// debouncer merges raw events per path. Only the latest event for a path is
// kept; flush runs once the path has been quiet for duration.
type debouncer struct {
	mutex    sync.Mutex
	clock    clock.Clock
	duration time.Duration
	entries  map[string]debounceEntry
}

func newDebouncer(clk clock.Clock, duration time.Duration) *debouncer {
	return &debouncer{
		clock:    clk,
		duration: duration,
		entries:  make(map[string]debounceEntry),
	}
}

// schedule records event and reports whether it replaced an earlier one.
func (debouncer *debouncer) schedule(event backend.RawEvent, flush func(string)) bool {
	if debouncer == nil {
		return false
	}
	debouncer.mutex.Lock()
	defer debouncer.mutex.Unlock()
	if debouncer.entries == nil {
		return false
	}
	path := event.Path
	entry := debouncer.entries[path]
	dropped := entry.timer != nil
	// A pending rescan must survive a later, narrower hint.
	if dropped && entry.event.Kind == backend.KindUnknown {
		event.Kind = backend.KindUnknown
	}
	entry.event = event
	if entry.timer == nil {
		entry.timer = debouncer.clock.AfterFunc(debouncer.duration, func() {
			flush(path)
		})
	} else {
		entry.timer.Reset(debouncer.duration)
	}
	debouncer.entries[path] = entry
	return dropped
}

func (debouncer *debouncer) pop(path string) (backend.RawEvent, bool) {
	if debouncer == nil {
		return backend.RawEvent{}, false
	}
	debouncer.mutex.Lock()
	defer debouncer.mutex.Unlock()
	entry, ok := debouncer.entries[path]
	if !ok {
		return backend.RawEvent{}, false
	}
	delete(debouncer.entries, path)
	return entry.event, true
}

func (debouncer *debouncer) pending() int {
	if debouncer == nil {
		return 0
	}
	debouncer.mutex.Lock()
	defer debouncer.mutex.Unlock()
	return len(debouncer.entries)
}

func (debouncer *debouncer) stop() {
	if debouncer == nil {
		return
	}
	debouncer.mutex.Lock()
	defer debouncer.mutex.Unlock()
	for _, entry := range debouncer.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	debouncer.entries = nil
}

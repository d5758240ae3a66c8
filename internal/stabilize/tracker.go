// Package stabilize holds back add and change notifications until a file
// stops growing.
package stabilize

import (
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"pathwatch/internal/logging"
	"pathwatch/internal/metrics"
)

const (
	DefaultStabilityThreshold = 2000 * time.Millisecond
	DefaultPollInterval       = 100 * time.Millisecond
)

type Kind int

const (
	KindAdd Kind = iota
	KindChange
)

func (kind Kind) String() string {
	if kind == KindAdd {
		return "add"
	}
	return "change"
}

// PendingWrite is a file whose notification is being held.
type PendingWrite struct {
	Path       string
	Kind       Kind
	First      fs.FileInfo
	Last       fs.FileInfo
	LastChange time.Time
	// Deadline is when the next poll runs.
	Deadline time.Time
}

type Options struct {
	StabilityThreshold time.Duration
	PollInterval       time.Duration
	Clock              clock.Clock
	// Stat defaults to os.Stat.
	Stat func(path string) (fs.FileInfo, error)
	// OnStable receives each write once its stats settle. It is called from
	// a timer goroutine.
	OnStable func(PendingWrite)
	Logger   *logging.Logger
	Registry *metrics.Registry
}

type Tracker struct {
	mu       sync.Mutex
	options  Options
	clock    clock.Clock
	pending  map[string]*pendingWrite
	closed   bool
	logger   *logging.Logger
	registry *metrics.Registry
}

type pendingWrite struct {
	PendingWrite
	timer *clock.Timer
}

func New(options Options) *Tracker {
	if options.StabilityThreshold <= 0 {
		options.StabilityThreshold = DefaultStabilityThreshold
	}
	if options.PollInterval <= 0 {
		options.PollInterval = DefaultPollInterval
	}
	if options.Clock == nil {
		options.Clock = clock.New()
	}
	if options.Stat == nil {
		options.Stat = os.Stat
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Tracker{
		options:  options,
		clock:    options.Clock,
		pending:  make(map[string]*pendingWrite),
		logger:   logger.Category("stabilize"),
		registry: options.Registry,
	}
}

// Track starts holding path, or restarts the stability window when it is
// already held. A pending add stays an add.
func (tracker *Tracker) Track(path string, kind Kind, info fs.FileInfo) {
	if tracker == nil {
		return
	}
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if tracker.closed {
		return
	}
	now := tracker.clock.Now()
	if existing, ok := tracker.pending[path]; ok {
		if info != nil {
			existing.Last = info
		}
		existing.LastChange = now
		return
	}
	entry := &pendingWrite{PendingWrite: PendingWrite{
		Path:       path,
		Kind:       kind,
		First:      info,
		Last:       info,
		LastChange: now,
		Deadline:   now.Add(tracker.options.PollInterval),
	}}
	entry.timer = tracker.clock.AfterFunc(tracker.options.PollInterval, func() {
		tracker.poll(path, entry)
	})
	tracker.pending[path] = entry
	tracker.registry.AddPendingWrites(1)
	tracker.logger.Debug("holding write", map[string]string{
		"path": path,
		"kind": kind.String(),
	})
}

// Cancel drops the pending write for path and returns its kind.
func (tracker *Tracker) Cancel(path string) (Kind, bool) {
	if tracker == nil {
		return KindAdd, false
	}
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	entry, ok := tracker.pending[path]
	if !ok {
		return KindAdd, false
	}
	tracker.removeLocked(path, entry)
	return entry.Kind, true
}

func (tracker *Tracker) Pending(path string) bool {
	if tracker == nil {
		return false
	}
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	_, ok := tracker.pending[path]
	return ok
}

// Get returns a copy of the pending write for path.
func (tracker *Tracker) Get(path string) (PendingWrite, bool) {
	if tracker == nil {
		return PendingWrite{}, false
	}
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	entry, ok := tracker.pending[path]
	if !ok {
		return PendingWrite{}, false
	}
	return entry.PendingWrite, true
}

func (tracker *Tracker) Len() int {
	if tracker == nil {
		return 0
	}
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	return len(tracker.pending)
}

func (tracker *Tracker) Close() {
	if tracker == nil {
		return
	}
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if tracker.closed {
		return
	}
	tracker.closed = true
	for path, entry := range tracker.pending {
		tracker.removeLocked(path, entry)
	}
}

func (tracker *Tracker) removeLocked(path string, entry *pendingWrite) {
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(tracker.pending, path)
	tracker.registry.AddPendingWrites(-1)
}

func (tracker *Tracker) poll(path string, entry *pendingWrite) {
	info, statErr := tracker.options.Stat(path)

	tracker.mu.Lock()
	if tracker.closed || tracker.pending[path] != entry {
		tracker.mu.Unlock()
		return
	}
	now := tracker.clock.Now()
	if statErr != nil {
		tracker.removeLocked(path, entry)
		tracker.mu.Unlock()
		tracker.logger.Debug("held write vanished", map[string]string{"path": path})
		return
	}
	if entry.Last == nil || sizeOrTimeChanged(entry.Last, info) {
		entry.Last = info
		entry.LastChange = now
	}
	if now.Sub(entry.LastChange) < tracker.options.StabilityThreshold {
		entry.Deadline = now.Add(tracker.options.PollInterval)
		entry.timer = tracker.clock.AfterFunc(tracker.options.PollInterval, func() {
			tracker.poll(path, entry)
		})
		tracker.mu.Unlock()
		return
	}
	entry.Last = info
	tracker.removeLocked(path, entry)
	stable := entry.PendingWrite
	onStable := tracker.options.OnStable
	tracker.mu.Unlock()

	if onStable != nil {
		onStable(stable)
	}
}

func sizeOrTimeChanged(previous, current fs.FileInfo) bool {
	return previous.Size() != current.Size() || !previous.ModTime().Equal(current.ModTime())
}

package backend

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"pathwatch/internal/logging"
	"pathwatch/internal/metrics"
)

// Poller detects changes by comparing stats on an interval. It works on any
// filesystem, including network mounts where notifications are unreliable.
type Poller struct {
	mutex          sync.Mutex
	clock          clock.Clock
	interval       time.Duration
	binaryInterval time.Duration
	watches        map[string]*polledPath
	events         chan RawEvent
	errors         chan error
	done           chan struct{}
	closed         bool
	wg             sync.WaitGroup
	logger         *logging.Logger
	registry       *metrics.Registry
}

type polledPath struct {
	count      int
	exists     bool
	state      snapshot
	children   map[string]snapshot
	binary     bool
	lastBinary time.Time
}

type snapshot struct {
	size    int64
	modTime time.Time
	dir     bool
	binary  bool
}

func snapshotOf(info fs.FileInfo) snapshot {
	return snapshot{
		size:    info.Size(),
		modTime: info.ModTime(),
		dir:     info.IsDir(),
		binary:  IsBinaryPath(info.Name()),
	}
}

func (s snapshot) changed(other snapshot) bool {
	return s.size != other.size || !s.modTime.Equal(other.modTime)
}

func NewPoller(options Options) *Poller {
	options = options.withDefaults("poll")
	poller := &Poller{
		clock:          options.Clock,
		interval:       options.Interval,
		binaryInterval: options.BinaryInterval,
		watches:        make(map[string]*polledPath),
		events:         make(chan RawEvent, options.EventBuffer),
		errors:         make(chan error, defaultErrorBuffer),
		done:           make(chan struct{}),
		logger:         options.Logger,
		registry:       options.Registry,
	}
	ticker := poller.clock.Ticker(poller.interval)
	poller.wg.Add(1)
	go poller.run(ticker)
	return poller
}

func (poller *Poller) Events() <-chan RawEvent {
	return poller.events
}

func (poller *Poller) Errors() <-chan error {
	return poller.errors
}

func (poller *Poller) Watch(path string) error {
	if poller == nil {
		return ErrClosed
	}
	path = filepath.Clean(path)
	watched := &polledPath{count: 1, binary: IsBinaryPath(path)}
	info, err := os.Stat(path)
	switch {
	case err == nil:
		watched.exists = true
		watched.state = snapshotOf(info)
		if info.IsDir() {
			watched.children = readChildren(path)
		}
	case isPermission(err):
		return &AccessError{Path: path, Err: err}
	case !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, errNotDirectory):
		return classify("stat", path, err)
	}

	poller.mutex.Lock()
	defer poller.mutex.Unlock()
	if poller.closed {
		return ErrClosed
	}
	if existing, ok := poller.watches[path]; ok {
		existing.count++
		return nil
	}
	watched.lastBinary = poller.clock.Now()
	poller.watches[path] = watched
	poller.logger.Debug("poll added", map[string]string{"path": path})
	return nil
}

func (poller *Poller) Unwatch(path string) error {
	if poller == nil {
		return nil
	}
	path = filepath.Clean(path)
	poller.mutex.Lock()
	defer poller.mutex.Unlock()
	existing, ok := poller.watches[path]
	if !ok {
		return nil
	}
	existing.count--
	if existing.count <= 0 {
		delete(poller.watches, path)
		poller.logger.Debug("poll removed", map[string]string{"path": path})
	}
	return nil
}

func (poller *Poller) Close() error {
	if poller == nil {
		return nil
	}
	poller.mutex.Lock()
	if poller.closed {
		poller.mutex.Unlock()
		return nil
	}
	poller.closed = true
	poller.watches = make(map[string]*polledPath)
	poller.mutex.Unlock()

	close(poller.done)
	poller.wg.Wait()
	close(poller.events)
	close(poller.errors)
	return nil
}

func (poller *Poller) run(ticker *clock.Ticker) {
	defer poller.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, event := range poller.poll() {
				poller.registry.IncRawEvent("poll", event.Kind.String())
				select {
				case poller.events <- event:
				case <-poller.done:
					return
				}
			}
		case <-poller.done:
			return
		}
	}
}

// poll compares every watched path with its previous observation and returns
// the differences.
func (poller *Poller) poll() []RawEvent {
	poller.mutex.Lock()
	defer poller.mutex.Unlock()
	if poller.closed {
		return nil
	}
	now := poller.clock.Now()
	var events []RawEvent
	for path, watched := range poller.watches {
		binaryDue := now.Sub(watched.lastBinary) >= poller.binaryInterval
		if binaryDue {
			watched.lastBinary = now
		}
		if watched.binary && !binaryDue {
			continue
		}
		events = append(events, pollPath(path, watched, binaryDue)...)
	}
	return events
}

func pollPath(path string, watched *polledPath, binaryDue bool) []RawEvent {
	info, err := os.Stat(path)
	if err != nil {
		if !watched.exists {
			return nil
		}
		watched.exists = false
		watched.children = nil
		return []RawEvent{{Path: path, Kind: KindDelete, Op: "stat-missing"}}
	}

	current := snapshotOf(info)
	if !watched.exists || watched.state.dir != current.dir {
		watched.exists = true
		watched.state = current
		watched.children = nil
		if current.dir {
			watched.children = readChildren(path)
		}
		return []RawEvent{{Path: path, Kind: KindCreate, Info: info, Op: "stat-appeared"}}
	}

	var events []RawEvent
	if !current.dir {
		if current.changed(watched.state) {
			events = append(events, RawEvent{Path: path, Kind: KindModify, Info: info, Op: "stat-changed"})
		}
		watched.state = current
		return events
	}
	watched.state = current

	children := readChildren(path)
	for name, previous := range watched.children {
		child := filepath.Join(path, name)
		next, ok := children[name]
		switch {
		case !ok:
			events = append(events, RawEvent{Path: child, Kind: KindDelete, Op: "readdir-missing"})
		case next.dir != previous.dir:
			events = append(events, RawEvent{Path: child, Kind: KindDelete, Op: "readdir-replaced"})
			events = append(events, RawEvent{Path: child, Kind: KindCreate, Op: "readdir-replaced"})
		case next.binary && !binaryDue:
			children[name] = previous
		case !next.dir && next.changed(previous):
			events = append(events, RawEvent{Path: child, Kind: KindModify, Op: "readdir-changed"})
		}
	}
	for name := range children {
		if _, ok := watched.children[name]; !ok {
			events = append(events, RawEvent{Path: filepath.Join(path, name), Kind: KindCreate, Op: "readdir-appeared"})
		}
	}
	watched.children = children
	return events
}

func readChildren(path string) map[string]snapshot {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil
	}
	children := make(map[string]snapshot, len(entries))
	for _, entry := range entries {
		info, err := childInfo(path, entry)
		if err != nil {
			continue
		}
		children[entry.Name()] = snapshotOf(info)
	}
	return children
}

// childInfo stats a directory entry, following it when it is a symlink so
// that writes to the target show up as changes of the link.
func childInfo(dir string, entry fs.DirEntry) (fs.FileInfo, error) {
	if entry.Type()&fs.ModeSymlink != 0 {
		if info, err := os.Stat(filepath.Join(dir, entry.Name())); err == nil {
			return info, nil
		}
	}
	return entry.Info()
}

// WatchCount reports the number of polled paths.
func (poller *Poller) WatchCount() int {
	if poller == nil {
		return 0
	}
	poller.mutex.Lock()
	defer poller.mutex.Unlock()
	return len(poller.watches)
}

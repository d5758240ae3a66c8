package backend

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"

	"pathwatch/internal/logging"
	"pathwatch/internal/metrics"
)

const (
	maxRestartAttempts = 3
	restartBaseDelay   = 200 * time.Millisecond
)

// Native delivers fsnotify events. Each watched directory holds a single
// notifier watch shared by every interest that resolved to it.
type Native struct {
	notifier *fsnotify.Watcher
	mutex    sync.Mutex
	// watches counts the interests resolved to each notifier path.
	watches map[string]int
	// interests maps a requested path to the notifier path serving it.
	interests  map[string]*interest
	events     chan RawEvent
	errors     chan error
	done       chan struct{}
	closed     bool
	forwarders sync.WaitGroup
	logger     *logging.Logger
	registry   *metrics.Registry
	maxWatches int

	restartMutex  sync.Mutex
	restartTimer  *clock.Timer
	restartPolicy backoff.BackOff
	clock         clock.Clock
}

type interest struct {
	target string
	count  int
}

func NewNative(options Options) (*Native, error) {
	options = options.withDefaults("native")
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, classify("init", "", err)
	}
	native := &Native{
		notifier:      notifier,
		watches:       make(map[string]int),
		interests:     make(map[string]*interest),
		events:        make(chan RawEvent, options.EventBuffer),
		errors:        make(chan error, defaultErrorBuffer),
		done:          make(chan struct{}),
		logger:        options.Logger,
		registry:      options.Registry,
		maxWatches:    options.MaxWatches,
		restartPolicy: newRestartPolicy(),
		clock:         options.Clock,
	}
	native.startForwarder(notifier)
	return native, nil
}

func (native *Native) Events() <-chan RawEvent {
	return native.events
}

func (native *Native) Errors() <-chan error {
	return native.errors
}

func (native *Native) Watch(path string) error {
	if native == nil {
		return ErrClosed
	}
	path = filepath.Clean(path)
	target, err := watchTarget(path)
	if err != nil {
		return err
	}

	native.mutex.Lock()
	if native.closed {
		native.mutex.Unlock()
		return ErrClosed
	}
	if existing, ok := native.interests[path]; ok {
		existing.count++
		native.mutex.Unlock()
		return nil
	}
	needsAdd := native.watches[target] == 0
	if needsAdd && native.maxWatches > 0 && len(native.watches) >= native.maxWatches {
		native.mutex.Unlock()
		return &BackendError{Op: "watch", Path: path, Err: ErrMaxWatchesExceeded, Fatal: true}
	}
	native.watches[target]++
	native.interests[path] = &interest{target: target, count: 1}
	activeCount := len(native.watches)
	notifier := native.notifier
	native.mutex.Unlock()

	if !needsAdd {
		return nil
	}
	if err := notifier.Add(target); err != nil {
		native.dropInterest(path)
		native.logger.Warn("watch add failed", map[string]string{
			"path":  target,
			"error": err.Error(),
		})
		return classify("watch", target, err)
	}
	native.logDebug("watch added", target, activeCount)
	return nil
}

func (native *Native) Unwatch(path string) error {
	if native == nil {
		return nil
	}
	path = filepath.Clean(path)
	target, remove := native.dropInterest(path)
	if !remove {
		return nil
	}

	native.mutex.Lock()
	notifier := native.notifier
	activeCount := len(native.watches)
	native.mutex.Unlock()

	if err := notifier.Remove(target); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) && !errors.Is(err, fsnotify.ErrClosed) {
		native.logger.Warn("watch remove failed", map[string]string{
			"path":  target,
			"error": err.Error(),
		})
		return classify("unwatch", target, err)
	}
	native.logDebug("watch removed", target, activeCount)
	return nil
}

// dropInterest releases one reference to path and reports the notifier path
// to remove when nothing else uses it.
func (native *Native) dropInterest(path string) (string, bool) {
	native.mutex.Lock()
	defer native.mutex.Unlock()
	if native.closed {
		return "", false
	}
	existing, ok := native.interests[path]
	if !ok {
		return "", false
	}
	existing.count--
	if existing.count > 0 {
		return "", false
	}
	delete(native.interests, path)
	count := native.watches[existing.target] - 1
	if count > 0 {
		native.watches[existing.target] = count
		return "", false
	}
	delete(native.watches, existing.target)
	return existing.target, true
}

// WatchCount reports the number of notifier watches in use.
func (native *Native) WatchCount() int {
	if native == nil {
		return 0
	}
	native.mutex.Lock()
	defer native.mutex.Unlock()
	return len(native.watches)
}

func (native *Native) Close() error {
	if native == nil {
		return nil
	}
	native.mutex.Lock()
	if native.closed {
		native.mutex.Unlock()
		return nil
	}
	native.closed = true
	notifier := native.notifier
	native.mutex.Unlock()

	native.restartMutex.Lock()
	if native.restartTimer != nil {
		native.restartTimer.Stop()
		native.restartTimer = nil
	}
	native.restartMutex.Unlock()

	close(native.done)
	var result *multierror.Error
	if notifier != nil {
		if err := notifier.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	native.forwarders.Wait()
	close(native.events)
	close(native.errors)
	return result.ErrorOrNil()
}

func (native *Native) startForwarder(source *fsnotify.Watcher) {
	if source == nil {
		return
	}

	native.forwarders.Add(1)
	go func() {
		defer native.forwarders.Done()
		for {
			select {
			case event, ok := <-source.Events:
				if !ok {
					return
				}
				native.forward(translate(event))
			case err, ok := <-source.Errors:
				if !ok {
					return
				}
				native.handleError(err)
			case <-native.done:
				return
			}
		}
	}()
}

func (native *Native) forward(event RawEvent) {
	native.registry.IncRawEvent("native", event.Kind.String())
	select {
	case native.events <- event:
	case <-native.done:
	}
}

func (native *Native) report(err error) {
	select {
	case native.errors <- err:
	case <-native.done:
	default:
		native.logger.Warn("backend error dropped", map[string]string{"error": err.Error()})
	}
}

// translate maps fsnotify operations to raw kinds. A rename reports the old
// name; the new name arrives as its own create.
func translate(event fsnotify.Event) RawEvent {
	kind := KindUnknown
	switch {
	case event.Has(fsnotify.Create):
		kind = KindCreate
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		kind = KindDelete
	case event.Has(fsnotify.Write), event.Has(fsnotify.Chmod):
		kind = KindModify
	}
	return RawEvent{
		Path: filepath.Clean(event.Name),
		Kind: kind,
		Op:   event.Op.String(),
	}
}

// watchTarget picks the directory the notifier should watch to observe path.
func watchTarget(path string) (string, error) {
	current := path
	for {
		info, err := os.Stat(current)
		if err == nil {
			if info.IsDir() {
				return current, nil
			}
			if current == path {
				return filepath.Dir(path), nil
			}
		} else if isPermission(err) {
			return "", &AccessError{Path: current, Err: err}
		} else if !os.IsNotExist(err) && !errors.Is(err, errNotDirectory) {
			return "", classify("stat", current, err)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", classify("stat", path, err)
		}
		current = parent
	}
}

func (native *Native) logDebug(message, path string, activeCount int) {
	native.logger.Debug(message, map[string]string{
		"path":           path,
		"active_watches": strconv.Itoa(activeCount),
	})
}

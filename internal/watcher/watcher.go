package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"pathwatch/internal/backend"
	"pathwatch/internal/event"
	"pathwatch/internal/glob"
	"pathwatch/internal/ignore"
	"pathwatch/internal/logging"
	"pathwatch/internal/metrics"
	"pathwatch/internal/stabilize"
	"pathwatch/internal/tree"
)

// Watcher reports changes under the roots passed to Add. Its methods are safe
// for concurrent use.
type Watcher struct {
	options  Options
	session  string
	cwd      string
	relative string
	logger   *logging.Logger
	registry *metrics.Registry
	clock    clock.Clock
	backend  backend.Backend
	bus      *event.Bus[Event]
	ignored  *ignore.Filter
	tracker  *stabilize.Tracker
	coalesce *debouncer
	swaps    swapTable
	atomic   time.Duration
	queue    *queue

	state      atomic.Int32
	coalesced  atomic.Uint64
	closing    chan struct{}
	loopDone   chan struct{}
	ingestDone chan struct{}
	ready      chan struct{}
	closeOnce  sync.Once
	closeErr   error

	// Owned by the reconciler goroutine.
	tree           *tree.Tree
	roots          map[int]*root
	rootOrder      []int
	nextRootID     int
	negations      []*glob.Matcher
	unwatchedGlobs []*glob.Matcher
	exclusions     map[string]struct{}
	watching       map[string]struct{}
	links          map[string]string
	linkTargets    map[string]map[string]struct{}
	pendingUnlinks map[string]*pendingUnlink
	reported       map[string]struct{}
	readyEmitted   bool
	// final is the last snapshot, taken by the reconciler as it stops.
	final map[string][]string
}

// New creates a Watcher with DefaultOptions.
func New() (*Watcher, error) {
	return NewWithOptions(DefaultOptions())
}

// NewWithOptions creates a Watcher. Nothing is watched until Add.
func NewWithOptions(options Options) (*Watcher, error) {
	session := uuid.NewString()
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With(map[string]string{
		logging.FieldCategory: "watcher",
		logging.FieldSession:  session,
	})
	registry := options.Registry
	if registry == nil {
		registry = metrics.Default
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.New()
	}
	if options.EventBuffer <= 0 {
		options.EventBuffer = defaultEventBuffer
	}
	if options.HistorySize <= 0 {
		options.HistorySize = defaultHistorySize
	}
	if options.Depth != nil && *options.Depth < 0 {
		return nil, fmt.Errorf("depth must not be negative: %d", *options.Depth)
	}

	cwd, err := filepath.Abs(".")
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	relative := ""
	if options.Cwd != "" {
		cwd, err = filepath.Abs(options.Cwd)
		if err != nil {
			return nil, fmt.Errorf("resolve cwd %q: %w", options.Cwd, err)
		}
		relative = cwd
	}

	ignored, err := ignore.New(cwd, options.Ignored...)
	if err != nil {
		return nil, fmt.Errorf("ignored: %w", err)
	}
	swaps, err := compileSwapTable(options.swapRules())
	if err != nil {
		return nil, err
	}

	source := options.Backend
	if source == nil {
		backendOptions := backend.Options{
			Logger:         logger,
			Registry:       registry,
			MaxWatches:     options.MaxWatches,
			Interval:       options.Interval,
			BinaryInterval: options.BinaryInterval,
			Clock:          clk,
		}
		if options.UsePolling {
			source = backend.NewPoller(backendOptions)
		} else {
			native, err := backend.NewNative(backendOptions)
			if err != nil {
				return nil, fmt.Errorf("start native backend: %w", err)
			}
			source = native
		}
	}

	watcher := &Watcher{
		options:        options,
		session:        session,
		cwd:            cwd,
		relative:       relative,
		logger:         logger,
		registry:       registry,
		clock:          clk,
		backend:        source,
		ignored:        ignored,
		swaps:          swaps,
		atomic:         options.atomicWindow(),
		queue:          newQueue(),
		closing:        make(chan struct{}),
		loopDone:       make(chan struct{}),
		ingestDone:     make(chan struct{}),
		ready:          make(chan struct{}),
		tree:           tree.New(),
		roots:          make(map[int]*root),
		exclusions:     make(map[string]struct{}),
		watching:       make(map[string]struct{}),
		links:          make(map[string]string),
		linkTargets:    make(map[string]map[string]struct{}),
		pendingUnlinks: make(map[string]*pendingUnlink),
		reported:       make(map[string]struct{}),
	}
	watcher.bus = event.NewBus[Event](context.Background(), event.BusOptions{
		Name:                 "watcher",
		SubscriberBufferSize: options.EventBuffer,
		BlockOnFull:          true,
		WriteTimeout:         defaultWriteTimeout,
		HistorySize:          options.HistorySize,
		Registry:             registry,
		Logger:               logger,
	})
	if window := options.coalesceWindow(); window > 0 {
		watcher.coalesce = newDebouncer(clk, window)
	}
	if await := options.AwaitWriteFinish; await != nil {
		watcher.tracker = stabilize.New(stabilize.Options{
			StabilityThreshold: await.StabilityThreshold,
			PollInterval:       await.PollInterval,
			Clock:              clk,
			Logger:             logger,
			Registry:           registry,
			OnStable: func(write stabilize.PendingWrite) {
				watcher.enqueue(func() {
					watcher.finishWrite(write)
				})
			},
		})
	}

	go watcher.loop()
	go watcher.ingest()
	logger.Debug("watcher started", map[string]string{
		"cwd":     cwd,
		"polling": strconv.FormatBool(options.UsePolling),
		"atomic":  watcher.atomic.String(),
	})
	return watcher, nil
}

// Add watches paths, which may be globs and "!"-prefixed exclusions. It
// returns once the initial scan of every path is done; the first Add is
// followed by a single ready event. Adding a path twice is harmless.
func (watcher *Watcher) Add(paths ...string) error {
	if watcher == nil || watcher.isClosing() {
		return ErrClosed
	}
	matchers, err := watcher.compileRoots(paths)
	if err != nil {
		return err
	}
	return watcher.call(func() {
		watcher.addRoots(matchers)
		watcher.markReady()
	})
}

// Unwatch stops watching paths. A path that was passed to Add is removed
// with everything only it reached; any other path inside a root is excluded
// until it is added again. No unlink events are emitted.
func (watcher *Watcher) Unwatch(paths ...string) error {
	if watcher == nil || watcher.isClosing() {
		return ErrClosed
	}
	matchers, err := watcher.compileRoots(paths)
	if err != nil {
		return err
	}
	return watcher.call(func() {
		for _, matcher := range matchers {
			watcher.unwatch(matcher)
		}
	})
}

// GetWatched maps each watched directory to the sorted names of its
// reported children. After Close it returns the final state.
func (watcher *Watcher) GetWatched() map[string][]string {
	if watcher == nil {
		return map[string][]string{}
	}
	var snapshot map[string][]string
	if err := watcher.call(func() {
		snapshot = watcher.tree.Snapshot(watcher.relative)
	}); err != nil {
		<-watcher.loopDone
		snapshot = make(map[string][]string, len(watcher.final))
		for dir, names := range watcher.final {
			snapshot[dir] = append([]string(nil), names...)
		}
	}
	return snapshot
}

// Subscribe delivers events whose Op is in ops, or every event when ops is
// empty. The channel closes when the watcher closes or cancel is called.
func (watcher *Watcher) Subscribe(ops ...Op) (<-chan Event, func()) {
	if len(ops) == 0 {
		return watcher.bus.Subscribe()
	}
	types := make([]string, 0, len(ops))
	for _, op := range ops {
		if op == OpAll {
			for _, semantic := range SemanticOps {
				types = append(types, string(semantic))
			}
			continue
		}
		types = append(types, string(op))
	}
	return watcher.bus.SubscribeTypes(types...)
}

// SubscribeAll delivers the five semantic event kinds.
func (watcher *Watcher) SubscribeAll() (<-chan Event, func()) {
	return watcher.Subscribe(SemanticOps...)
}

// On calls fn for each event of kind op, in order, from its own goroutine.
// OpAll selects the semantic kinds. The returned func stops delivery.
func (watcher *Watcher) On(op Op, fn func(Event)) func() {
	events, cancel := watcher.Subscribe(op)
	go func() {
		for event := range events {
			fn(event)
		}
	}()
	return cancel
}

// Ready is closed once the first ready event has been emitted.
func (watcher *Watcher) Ready() <-chan struct{} {
	return watcher.ready
}

// Done is closed once the watcher has stopped processing.
func (watcher *Watcher) Done() <-chan struct{} {
	return watcher.loopDone
}

func (watcher *Watcher) State() State {
	if watcher == nil {
		return StateClosed
	}
	return State(watcher.state.Load())
}

// History returns up to count of the most recent events, oldest first.
func (watcher *Watcher) History(count int) []Event {
	return watcher.bus.History(count)
}

// Session identifies this watcher in logs.
func (watcher *Watcher) Session() string {
	return watcher.session
}

// Close stops the watcher and releases its backend. No events are delivered
// after Close returns; raw events still in flight are dropped.
func (watcher *Watcher) Close() error {
	if watcher == nil {
		return nil
	}
	watcher.closeOnce.Do(func() {
		watcher.setState(StateClosed)
		close(watcher.closing)
		<-watcher.loopDone
		watcher.queue.close()
		watcher.coalesce.stop()
		watcher.tracker.Close()
		watcher.stopPendingUnlinks()

		var result *multierror.Error
		if err := watcher.backend.Close(); err != nil && !errors.Is(err, backend.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("close backend: %w", err))
		}
		<-watcher.ingestDone
		watcher.bus.Close()
		watcher.closeErr = result.ErrorOrNil()
		watcher.logger.Debug("watcher closed", map[string]string{
			"coalesced": strconv.FormatUint(watcher.coalesced.Load(), 10),
		})
	})
	return watcher.closeErr
}

func (watcher *Watcher) loop() {
	defer close(watcher.loopDone)
	for {
		select {
		case <-watcher.closing:
			watcher.final = watcher.tree.Snapshot(watcher.relative)
			return
		case <-watcher.queue.signal:
			for !watcher.isClosing() {
				item, ok := watcher.queue.pop()
				if !ok {
					break
				}
				item()
			}
		}
	}
}

func (watcher *Watcher) enqueue(item func()) bool {
	return watcher.queue.push(item)
}

// call runs fn on the reconciler and waits for it.
func (watcher *Watcher) call(fn func()) error {
	done := make(chan struct{})
	if !watcher.enqueue(func() {
		fn()
		close(done)
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-watcher.loopDone:
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	}
}

func (watcher *Watcher) isClosing() bool {
	select {
	case <-watcher.closing:
		return true
	default:
		return false
	}
}

func (watcher *Watcher) setState(next State) {
	for {
		current := watcher.state.Load()
		if State(current) == StateClosed || State(current) == next {
			return
		}
		if watcher.state.CompareAndSwap(current, int32(next)) {
			return
		}
	}
}

func (watcher *Watcher) markReady() {
	if watcher.readyEmitted {
		return
	}
	watcher.readyEmitted = true
	watcher.setState(StateReady)
	watcher.emit(OpReady, "", nil)
	close(watcher.ready)
	watcher.logger.Info("watcher ready", map[string]string{
		"entries": strconv.Itoa(watcher.tree.Len()),
		"roots":   strconv.Itoa(len(watcher.roots)),
	})
	if !watcher.options.Persistent {
		go watcher.Close()
	}
}

func (watcher *Watcher) emit(op Op, path string, info fs.FileInfo) {
	event := Event{
		Op:   op,
		Info: info,
		Time: watcher.clock.Now(),
	}
	if path != "" {
		event.Path = watcher.display(path)
	}
	watcher.registry.IncEvent(string(op))
	if watcher.logger.Enabled(logging.LevelDebug) {
		watcher.logger.Debug("event", map[string]string{
			"op":   string(op),
			"path": event.Path,
		})
	}
	watcher.publish(event)
}

func (watcher *Watcher) emitError(err error) {
	watcher.registry.IncError(errorKind(err))
	watcher.logger.Warn("watch error", map[string]string{"error": err.Error()})
	watcher.publish(Event{
		Op:   OpError,
		Err:  err,
		Time: watcher.clock.Now(),
	})
}

func (watcher *Watcher) publish(event Event) {
	watcher.bus.Publish(event)
}

// display renders an absolute path the way events and GetWatched report it.
func (watcher *Watcher) display(path string) string {
	if watcher.relative == "" {
		return path
	}
	rel, err := filepath.Rel(watcher.relative, path)
	if err != nil {
		return path
	}
	return rel
}

func errorKind(err error) string {
	var access *backend.AccessError
	var failure *backend.BackendError
	switch {
	case errors.As(err, &access):
		return "access"
	case errors.As(err, &failure):
		if failure.Fatal {
			return "backend_fatal"
		}
		return "backend"
	case errors.Is(err, os.ErrPermission):
		return "access"
	default:
		return "other"
	}
}

package watcher

import (
	"time"

	"github.com/benbjohnson/clock"

	"pathwatch/internal/backend"
	"pathwatch/internal/ignore"
	"pathwatch/internal/logging"
	"pathwatch/internal/metrics"
)

const (
	defaultAtomic       = 100 * time.Millisecond
	defaultCoalesce     = 50 * time.Millisecond
	defaultEventBuffer  = 1024
	defaultHistorySize  = 256
	defaultWriteTimeout = 5 * time.Second
)

// AwaitWriteFinish holds add and change events until a file's size and mtime
// have been stable for StabilityThreshold, checking every PollInterval.
type AwaitWriteFinish struct {
	StabilityThreshold time.Duration
	PollInterval       time.Duration
}

// SwapRule recognizes editor swap and backup files by base name. Pattern is
// matched against the name; the logical file it stands for is found by
// stripping Prefix from the front and cutting at the last Marker. A rule with
// neither Prefix nor Marker only hides the file.
type SwapRule struct {
	Pattern string
	Prefix  string
	Marker  string
}

// DefaultSwapRules cover vim, emacs and Sublime Text.
func DefaultSwapRules() []SwapRule {
	return []SwapRule{
		{Pattern: ".*.sw[px]", Prefix: ".", Marker: ".sw"},
		{Pattern: "4913"},
		{Pattern: "*~", Marker: "~"},
		{Pattern: ".#*", Prefix: ".#"},
		{Pattern: "#*#", Prefix: "#", Marker: "#"},
		{Pattern: ".*.subl*.tmp", Prefix: ".", Marker: ".subl"},
	}
}

// Options configure a Watcher. Start from DefaultOptions: Persistent and
// FollowSymlinks default to true there, and the zero Options turns both off.
type Options struct {
	// Persistent keeps the watcher running after ready. When false the
	// watcher scans, emits ready and closes itself.
	Persistent    bool
	IgnoreInitial bool
	// FollowSymlinks reports link targets under the link path. Otherwise
	// links are reported as files and a retargeted link is a change.
	FollowSymlinks bool
	// Cwd resolves relative paths and patterns. When set, emitted paths and
	// GetWatched keys are relative to it; otherwise they are absolute.
	Cwd string
	// Depth limits recursion below each root. Nil means unlimited.
	Depth            *int
	AwaitWriteFinish *AwaitWriteFinish
	Ignored          []ignore.Rule
	// IgnorePermissionErrors skips unreadable paths without an error event.
	IgnorePermissionErrors bool
	// Atomic is how long an unlink is held in case the file comes back. Nil
	// selects 100ms, or disables holding under UsePolling.
	Atomic          *time.Duration
	DisableGlobbing bool
	UsePolling      bool
	Interval        time.Duration
	BinaryInterval  time.Duration
	// Coalesce merges raw events for one path that arrive within this
	// window. Zero selects 50ms; negative disables merging.
	Coalesce     time.Duration
	SwapPatterns []SwapRule
	// MaxWatches caps native directory watches. Zero means no cap.
	MaxWatches int

	Logger   *logging.Logger
	Registry *metrics.Registry
	Clock    clock.Clock
	// Backend replaces the backend selected by UsePolling.
	Backend     backend.Backend
	EventBuffer int
	HistorySize int
}

func DefaultOptions() Options {
	return Options{
		Persistent:     true,
		FollowSymlinks: true,
	}
}

// Depth returns a pointer for Options.Depth.
func Depth(levels int) *int {
	return &levels
}

// AtomicWindow returns a pointer for Options.Atomic.
func AtomicWindow(window time.Duration) *time.Duration {
	return &window
}

func (options Options) atomicWindow() time.Duration {
	if options.Atomic != nil {
		if *options.Atomic < 0 {
			return 0
		}
		return *options.Atomic
	}
	if options.UsePolling {
		return 0
	}
	return defaultAtomic
}

func (options Options) coalesceWindow() time.Duration {
	switch {
	case options.Coalesce < 0:
		return 0
	case options.Coalesce == 0:
		return defaultCoalesce
	default:
		return options.Coalesce
	}
}

func (options Options) swapRules() []SwapRule {
	if options.SwapPatterns == nil {
		return DefaultSwapRules()
	}
	return options.SwapPatterns
}

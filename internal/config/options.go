package config

import (
	"time"

	"pathwatch/internal/ignore"
	"pathwatch/internal/watcher"
)

// WatcherOptions converts the watch section. Logger, Registry and Clock are
// left for the caller.
func (f File) WatcherOptions() watcher.Options {
	section := f.Watch
	options := watcher.DefaultOptions()
	options.Persistent = section.Persistent
	options.IgnoreInitial = section.IgnoreInitial
	options.FollowSymlinks = section.FollowSymlinks
	options.Cwd = section.Cwd
	if section.Depth >= 0 {
		options.Depth = watcher.Depth(section.Depth)
	}
	for _, pattern := range section.Ignored {
		options.Ignored = append(options.Ignored, ignore.Pattern(pattern))
	}
	options.IgnorePermissionErrors = section.IgnorePermissionErrors
	if section.Atomic != nil {
		options.Atomic = watcher.AtomicWindow(section.Atomic.Std())
	}
	options.DisableGlobbing = section.DisableGlobbing
	options.UsePolling = section.UsePolling
	options.Interval = section.Interval.Std()
	options.BinaryInterval = section.BinaryInterval.Std()
	options.Coalesce = coalesceWindow(section.Coalesce.Std())
	if section.AwaitWriteFinish {
		options.AwaitWriteFinish = &watcher.AwaitWriteFinish{
			StabilityThreshold: section.StabilityThreshold.Std(),
			PollInterval:       section.PollInterval.Std(),
		}
	}
	options.MaxWatches = section.MaxWatches
	if section.SwapPatterns != nil {
		options.SwapPatterns = make([]watcher.SwapRule, 0, len(section.SwapPatterns))
		for _, rule := range section.SwapPatterns {
			options.SwapPatterns = append(options.SwapPatterns, watcher.SwapRule{
				Pattern: rule.Pattern,
				Prefix:  rule.Prefix,
				Marker:  rule.Marker,
			})
		}
	}
	return options
}

// coalesceWindow maps a configured zero to "off"; the watcher reads zero
// as its default window.
func coalesceWindow(window time.Duration) time.Duration {
	if window == 0 {
		return -1
	}
	return window
}

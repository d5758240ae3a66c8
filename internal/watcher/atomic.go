package watcher

import (
	"fmt"
	"path/filepath"
	"strings"

	gobwas "github.com/gobwas/glob"

	"pathwatch/internal/tree"
)

type swapMatcher struct {
	rule    SwapRule
	pattern gobwas.Glob
}

// swapTable recognizes swap and backup files written by editors during an
// atomic save.
type swapTable []swapMatcher

func compileSwapTable(rules []SwapRule) (swapTable, error) {
	table := make(swapTable, 0, len(rules))
	for _, rule := range rules {
		pattern, err := gobwas.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("swap pattern %q: %w", rule.Pattern, err)
		}
		table = append(table, swapMatcher{rule: rule, pattern: pattern})
	}
	return table, nil
}

// match reports whether name is a swap file, and the name of the file it
// stands in for when the rule can tell.
func (table swapTable) match(name string) (string, bool) {
	for _, matcher := range table {
		if !matcher.pattern.Match(name) {
			continue
		}
		rule := matcher.rule
		if rule.Prefix == "" && rule.Marker == "" {
			return "", true
		}
		logical := strings.TrimPrefix(name, rule.Prefix)
		if rule.Marker != "" {
			index := strings.LastIndex(logical, rule.Marker)
			if index < 0 {
				return "", true
			}
			logical = logical[:index]
		}
		return logical, true
	}
	return "", false
}

// pendingUnlink is an unlink held back in case the file is recreated.
type pendingUnlink struct {
	entry      *tree.Entry
	generation int
	cancel     func() bool
}

func (watcher *Watcher) holdUnlink(entry *tree.Entry) {
	watcher.dropPendingUnlink(entry.Path)
	pending := &pendingUnlink{entry: entry}
	watcher.pendingUnlinks[entry.Path] = pending
	watcher.armUnlink(pending)
}

func (watcher *Watcher) armUnlink(pending *pendingUnlink) {
	if pending.cancel != nil {
		pending.cancel()
	}
	pending.generation++
	generation := pending.generation
	path := pending.entry.Path
	timer := watcher.clock.AfterFunc(watcher.atomic, func() {
		watcher.enqueue(func() {
			watcher.flushUnlink(path, generation)
		})
	})
	pending.cancel = timer.Stop
}

func (watcher *Watcher) flushUnlink(path string, generation int) {
	pending, ok := watcher.pendingUnlinks[path]
	if !ok || pending.generation != generation {
		return
	}
	delete(watcher.pendingUnlinks, path)
	watcher.emit(OpUnlink, path, nil)
}

// takePendingUnlink cancels and returns the held unlink for path.
func (watcher *Watcher) takePendingUnlink(path string) (*pendingUnlink, bool) {
	pending, ok := watcher.pendingUnlinks[path]
	if !ok {
		return nil, false
	}
	delete(watcher.pendingUnlinks, path)
	if pending.cancel != nil {
		pending.cancel()
	}
	return pending, true
}

func (watcher *Watcher) dropPendingUnlink(path string) {
	watcher.takePendingUnlink(path)
}

// extendHold restarts the window of the file a swap file stands in for.
func (watcher *Watcher) extendHold(swapPath, logical string) {
	if logical == "" {
		return
	}
	target := filepath.Join(filepath.Dir(swapPath), logical)
	pending, ok := watcher.pendingUnlinks[target]
	if !ok {
		return
	}
	watcher.armUnlink(pending)
	watcher.logger.Debug("unlink hold extended", map[string]string{
		"path": target,
		"swap": swapPath,
	})
}

// swapFile reports whether path should be hidden as an editor swap file.
func (watcher *Watcher) swapFile(path string) (string, bool) {
	if watcher.atomic <= 0 {
		return "", false
	}
	return watcher.swaps.match(filepath.Base(path))
}

func (watcher *Watcher) stopPendingUnlinks() {
	for path := range watcher.pendingUnlinks {
		watcher.dropPendingUnlink(path)
	}
}

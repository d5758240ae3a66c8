package watcher

import (
	"path/filepath"
	"strings"

	"pathwatch/internal/glob"
	"pathwatch/internal/tree"
)

// root is one path or pattern passed to Add.
type root struct {
	id      int
	matcher *glob.Matcher
	depth   *int
	// exists is false while the base is missing; the backend then watches
	// the nearest existing ancestor until it appears.
	exists bool
}

func (r *root) pattern() string {
	return r.matcher.Pattern()
}

func (r *root) base() string {
	return r.matcher.Base()
}

// level counts the path segments between the root's base and path. The base
// itself is level 0.
func (r *root) level(path string) int {
	rel, err := filepath.Rel(r.base(), path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

func (r *root) contains(path string) bool {
	return tree.Under(r.base(), path)
}

// accepts reports whether path, at level, is reported for this root.
// Entries one level past the depth limit are still reported.
func (r *root) accepts(path string, level int) bool {
	if r.depth != nil && level > *r.depth+1 {
		return false
	}
	if r.matcher.Literal() {
		return r.contains(path)
	}
	return r.matcher.Test(path)
}

// traverses reports whether the directory at level is listed and watched.
func (r *root) traverses(dir string, level int) bool {
	if level == 0 {
		return true
	}
	if r.depth != nil && level > *r.depth {
		return false
	}
	if r.matcher.Literal() {
		return true
	}
	return r.matcher.CouldContain(dir)
}

func (watcher *Watcher) compileRoots(paths []string) ([]*glob.Matcher, error) {
	if len(paths) == 0 {
		return nil, ErrEmptyPath
	}
	matchers := make([]*glob.Matcher, 0, len(paths))
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			return nil, ErrEmptyPath
		}
		matcher, err := glob.Compile(path, watcher.globOptions())
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, matcher)
	}
	return matchers, nil
}

func (watcher *Watcher) globOptions() glob.Options {
	return glob.Options{
		DisableGlobbing: watcher.options.DisableGlobbing,
		Cwd:             watcher.cwd,
	}
}

// addRoots registers matchers and scans every positive root. Negations are
// applied first so that a single Add can both include and exclude.
func (watcher *Watcher) addRoots(matchers []*glob.Matcher) {
	for _, matcher := range matchers {
		if matcher.Negated() {
			watcher.addNegation(matcher)
		}
	}
	for _, matcher := range matchers {
		if matcher.Negated() {
			continue
		}
		watcher.clearExclusion(matcher)
		r := watcher.rootFor(matcher)
		watcher.scanRoot(r)
	}
}

func (watcher *Watcher) rootFor(matcher *glob.Matcher) *root {
	for _, id := range watcher.rootOrder {
		existing := watcher.roots[id]
		if existing.pattern() == matcher.Pattern() && existing.base() == matcher.Base() {
			return existing
		}
	}
	watcher.nextRootID++
	r := &root{
		id:      watcher.nextRootID,
		matcher: matcher,
		depth:   watcher.options.Depth,
	}
	watcher.roots[r.id] = r
	watcher.rootOrder = append(watcher.rootOrder, r.id)
	watcher.logger.Debug("root added", map[string]string{
		"pattern": matcher.Pattern(),
		"base":    matcher.Base(),
	})
	return r
}

func (watcher *Watcher) addNegation(matcher *glob.Matcher) {
	for _, existing := range watcher.negations {
		if existing.Pattern() == matcher.Pattern() {
			return
		}
	}
	watcher.negations = append(watcher.negations, matcher)
	watcher.prune(func(path string) bool {
		return matcher.Test(path)
	})
}

// clearExclusion undoes an earlier Unwatch of the same path or pattern.
func (watcher *Watcher) clearExclusion(matcher *glob.Matcher) {
	if matcher.Literal() {
		delete(watcher.exclusions, matcher.Base())
	}
	kept := watcher.unwatchedGlobs[:0]
	for _, existing := range watcher.unwatchedGlobs {
		if existing.Pattern() != matcher.Pattern() {
			kept = append(kept, existing)
		}
	}
	watcher.unwatchedGlobs = kept
}

// excluded reports paths removed by Unwatch or by a negated pattern.
func (watcher *Watcher) excluded(path string) bool {
	for excluded := range watcher.exclusions {
		if tree.Under(excluded, path) {
			return true
		}
	}
	for _, matcher := range watcher.unwatchedGlobs {
		if matcher.Test(path) {
			return true
		}
	}
	for _, matcher := range watcher.negations {
		if matcher.Test(path) {
			return true
		}
	}
	return false
}

func (watcher *Watcher) positiveRoots() []*root {
	out := make([]*root, 0, len(watcher.rootOrder))
	for _, id := range watcher.rootOrder {
		out = append(out, watcher.roots[id])
	}
	return out
}

// unwatch removes the roots registered under matcher's pattern, or excludes
// the pattern when it only names something inside a root.
func (watcher *Watcher) unwatch(matcher *glob.Matcher) {
	target := matcher.Pattern()
	if matcher.Negated() {
		kept := watcher.negations[:0]
		for _, existing := range watcher.negations {
			if existing.Pattern() != matcher.Pattern() {
				kept = append(kept, existing)
			}
		}
		watcher.negations = kept
		return
	}

	removed := false
	for _, r := range watcher.positiveRoots() {
		if r.pattern() == target || (r.matcher.Literal() && matcher.Literal() && r.base() == matcher.Base()) {
			watcher.removeRoot(r)
			removed = true
		}
	}
	if removed {
		return
	}

	if matcher.Literal() {
		watcher.exclusions[matcher.Base()] = struct{}{}
		watcher.prune(func(path string) bool {
			return tree.Under(matcher.Base(), path)
		})
	} else {
		watcher.unwatchedGlobs = append(watcher.unwatchedGlobs, matcher)
		watcher.prune(matcher.Test)
	}
	watcher.logger.Debug("path excluded", map[string]string{"pattern": target})
}

func (watcher *Watcher) removeRoot(r *root) {
	delete(watcher.roots, r.id)
	kept := watcher.rootOrder[:0]
	for _, id := range watcher.rootOrder {
		if id != r.id {
			kept = append(kept, id)
		}
	}
	watcher.rootOrder = kept
	if !r.exists {
		watcher.unwatchPath(r.base())
	}

	// Children first, so that a directory is only forgotten once nothing
	// another root still owns lives below it.
	paths := watcher.tree.Paths()
	for index := len(paths) - 1; index >= 0; index-- {
		path := paths[index]
		entry, ok := watcher.tree.Get(path)
		if !ok || !entry.OwnedBy(r.id) {
			continue
		}
		entry.RemoveOwner(r.id)
		if len(entry.Owners) > 0 {
			continue
		}
		if len(watcher.tree.ChildNames(path)) == 0 {
			watcher.forget(path)
			continue
		}
		entry.Visible = false
		watcher.unwatchPath(path)
	}
	watcher.logger.Debug("root removed", map[string]string{
		"pattern": r.pattern(),
		"base":    r.base(),
	})
}

// prune forgets every tracked path matching match without emitting events.
func (watcher *Watcher) prune(match func(string) bool) {
	for _, path := range watcher.tree.Paths() {
		if _, ok := watcher.tree.Get(path); !ok {
			continue
		}
		if match(path) {
			watcher.forget(path)
		}
	}
}

// forget drops path and its subtree silently, releasing their watches.
func (watcher *Watcher) forget(path string) {
	removed := watcher.tree.Remove(path)
	for _, entry := range removed {
		watcher.unwatchPath(entry.Path)
		watcher.releaseLink(entry.Path)
		watcher.tracker.Cancel(entry.Path)
		watcher.dropPendingUnlink(entry.Path)
	}
	watcher.registry.AddTrackedEntries(-len(removed))
}

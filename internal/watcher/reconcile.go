package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"pathwatch/internal/backend"
	"pathwatch/internal/stabilize"
	"pathwatch/internal/tree"
)

const maxRepoints = 8

// ingest moves raw events from the backend into the coalescer. It stops when
// the watcher closes or the backend shuts its channels.
func (watcher *Watcher) ingest() {
	defer close(watcher.ingestDone)
	events := watcher.backend.Events()
	errs := watcher.backend.Errors()
	for events != nil || errs != nil {
		select {
		case <-watcher.closing:
			return
		case raw, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			watcher.receive(raw)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			watcher.enqueue(func() {
				watcher.reportBackendError("", err)
			})
		}
	}
}

func (watcher *Watcher) receive(raw backend.RawEvent) {
	if watcher.isClosing() {
		return
	}
	raw.Path = filepath.Clean(raw.Path)
	event := raw
	watcher.publish(Event{
		Op:   OpRaw,
		Path: watcher.display(raw.Path),
		Info: raw.Info,
		Raw:  &event,
		Time: watcher.clock.Now(),
	})
	if watcher.coalesce == nil {
		watcher.enqueue(func() {
			watcher.process(raw)
		})
		return
	}
	if dropped := watcher.coalesce.schedule(raw, watcher.flushCoalesced); dropped {
		watcher.coalesced.Add(1)
	}
}

func (watcher *Watcher) flushCoalesced(path string) {
	watcher.enqueue(func() {
		raw, ok := watcher.coalesce.pop(path)
		if !ok {
			return
		}
		watcher.process(raw)
	})
}

// process reconciles one path against the tree. Backend kinds are hints; the
// path is always statted.
func (watcher *Watcher) process(raw backend.RawEvent) {
	path := raw.Path
	if watcher.readyEmitted {
		watcher.setState(StateRunning)
	}
	watcher.resolveMissingRoots(path)
	watcher.reprocessLinks(raw)
	if !watcher.relevant(path) {
		return
	}

	entry, known := watcher.tree.Get(path)
	seen, err := watcher.observe(path)
	if err != nil {
		if known {
			watcher.remove(path)
			return
		}
		if errors.Is(err, fs.ErrNotExist) {
			watcher.tracker.Cancel(path)
			return
		}
		watcher.reportAccess(path, err)
		return
	}
	if known && (entry.Kind == tree.KindDir) != (seen.kind == tree.KindDir) {
		watcher.remove(path)
		known = false
	}
	if !known {
		watcher.discover(path)
		return
	}
	if watcher.ignored.ShouldIgnore(path, seen.info) {
		return
	}

	if entry.IsDir() {
		entry.Stat = tree.StatOf(seen.info)
		entry.Info = seen.info
		watcher.rescan(entry, raw.Kind == backend.KindUnknown)
		return
	}
	watcher.followLink(path, seen.real)
	if !entry.Visible {
		if watcher.tracker.Pending(path) {
			watcher.tracker.Track(path, stabilize.KindAdd, seen.info)
			return
		}
		entry.Visible = true
		entry.Stat = tree.StatOf(seen.info)
		entry.Info = seen.info
		watcher.emit(OpAdd, path, seen.info)
		return
	}
	retargeted := entry.Kind == tree.KindSymlink && entry.Target != seen.target
	if entry.Stat.Changed(tree.StatOf(seen.info)) || retargeted || watcher.tracker.Pending(path) {
		watcher.announceChange(entry, seen)
	}
}

// relevant reports whether path lies under some root.
func (watcher *Watcher) relevant(path string) bool {
	for _, id := range watcher.rootOrder {
		if watcher.roots[id].contains(path) {
			return true
		}
	}
	return false
}

// discover handles a path the tree does not know yet. It is registered for
// every root whose walk would have reached it.
func (watcher *Watcher) discover(path string) {
	parent := filepath.Dir(path)
	for _, r := range watcher.positiveRoots() {
		if path == r.base() {
			if !r.exists {
				continue
			}
			watcher.visit(r, path, 0, make(map[string]struct{}), false)
			continue
		}
		if !r.contains(path) {
			continue
		}
		parentEntry, ok := watcher.tree.Get(parent)
		if !ok || !parentEntry.IsDir() || !parentEntry.OwnedBy(r.id) {
			continue
		}
		level := r.level(parent)
		if !r.traverses(parent, level) {
			continue
		}
		if _, watched := watcher.watching[parent]; !watched {
			continue
		}
		watcher.visit(r, path, level+1, watcher.chainFor(r, parent), false)
	}
}

// rescan compares a directory listing with the tree. A deep rescan also
// re-stats every known child, which is how overflow and restart hints are
// recovered from.
func (watcher *Watcher) rescan(entry *tree.Entry, deep bool) {
	if _, watched := watcher.watching[entry.Path]; !watched {
		return
	}
	names, err := readNames(entry.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			watcher.remove(entry.Path)
			return
		}
		watcher.reportAccess(entry.Path, err)
		return
	}
	present := make(map[string]struct{}, len(names))
	for _, name := range names {
		present[name] = struct{}{}
	}
	for _, name := range watcher.tree.ChildNames(entry.Path) {
		if _, ok := present[name]; !ok {
			watcher.remove(filepath.Join(entry.Path, name))
		}
	}
	for _, name := range names {
		child := filepath.Join(entry.Path, name)
		if _, known := watcher.tree.Get(child); !known {
			watcher.discover(child)
			continue
		}
		if deep {
			watcher.process(backend.RawEvent{Path: child, Kind: backend.KindUnknown})
		}
	}
}

// remove reports the disappearance of path and everything below it,
// children before their parent. Only a file removed on its own has its
// unlink held for the atomic window.
func (watcher *Watcher) remove(path string) {
	removed := watcher.tree.Remove(path)
	watcher.registry.AddTrackedEntries(-len(removed))
	for _, entry := range removed {
		watcher.unwatchPath(entry.Path)
		watcher.releaseLink(entry.Path)
		if kind, ok := watcher.tracker.Cancel(entry.Path); ok && kind == stabilize.KindAdd {
			continue
		}
		if !entry.Visible {
			continue
		}
		switch {
		case entry.IsDir():
			watcher.flushHeldUnder(entry.Path)
			watcher.emit(OpUnlinkDir, entry.Path, nil)
		case entry.Path == path && watcher.atomic > 0:
			watcher.holdUnlink(entry)
		default:
			watcher.emit(OpUnlink, entry.Path, nil)
		}
	}
	for _, r := range watcher.positiveRoots() {
		if r.exists && tree.Under(path, r.base()) {
			r.exists = false
			watcher.watchPath(r.base())
		}
	}
}

// resolveMissingRoots checks roots whose base did not exist whenever
// something happens above the base. The watch is moved down to the new
// nearest existing ancestor until the base itself appears.
func (watcher *Watcher) resolveMissingRoots(path string) {
	for _, r := range watcher.positiveRoots() {
		if r.exists || !tree.Under(path, r.base()) {
			continue
		}
		for attempt := 0; attempt < maxRepoints; attempt++ {
			ancestor := nearestExisting(r.base())
			if ancestor == r.base() {
				watcher.unwatchPath(r.base())
				r.exists = true
				watcher.logger.Debug("root appeared", map[string]string{"base": r.base()})
				watcher.visit(r, r.base(), 0, make(map[string]struct{}), false)
				break
			}
			watcher.unwatchPath(r.base())
			watcher.watchPath(r.base())
			if nearestExisting(r.base()) == ancestor {
				break
			}
		}
	}
}

func nearestExisting(path string) string {
	current := path
	for {
		if _, err := os.Lstat(current); err == nil {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return current
		}
		current = parent
	}
}

// flushHeldUnder emits the held unlinks below dir right away. Once the
// directory is gone its files cannot come back in place.
func (watcher *Watcher) flushHeldUnder(dir string) {
	var paths []string
	for path := range watcher.pendingUnlinks {
		if path != dir && tree.Under(dir, path) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	for _, path := range paths {
		if _, ok := watcher.takePendingUnlink(path); ok {
			watcher.emit(OpUnlink, path, nil)
		}
	}
}

func (watcher *Watcher) reportAccess(path string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	var access *backend.AccessError
	if !errors.As(err, &access) {
		if !errors.Is(err, fs.ErrPermission) {
			watcher.reportBackendError(path, err)
			return
		}
		access = &backend.AccessError{Path: path, Err: err}
	}
	if watcher.options.IgnorePermissionErrors {
		watcher.logger.Debug("permission denied", map[string]string{"path": access.Path})
		return
	}
	watcher.emitError(access)
}

// reportBackendError surfaces err once per path and operation. Exhaustion
// errors are surfaced once in total.
func (watcher *Watcher) reportBackendError(path string, err error) {
	if err == nil {
		return
	}
	var access *backend.AccessError
	if errors.As(err, &access) {
		watcher.reportAccess(path, err)
		return
	}
	key := path + "\x00" + err.Error()
	var failure *backend.BackendError
	if errors.As(err, &failure) {
		key = failure.Op + "\x00" + failure.Path
		if backend.IsExhausted(err) {
			key = "exhausted"
		}
	}
	if _, seen := watcher.reported[key]; seen {
		watcher.logger.Debug("backend error repeated", map[string]string{"error": err.Error()})
		return
	}
	watcher.reported[key] = struct{}{}
	watcher.emitError(err)
}

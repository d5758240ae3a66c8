package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"pathwatch/internal/backend"
	"pathwatch/internal/stabilize"
	"pathwatch/internal/tree"
)

// observation is what one stat of a path found.
type observation struct {
	info fs.FileInfo
	kind tree.Kind
	// target is the link destination when path is a symlink.
	target string
	// real is the resolved path of a followed link to a file.
	real string
}

// observe stats path according to the symlink policy. Followed links take
// the kind and stats of their target; a broken link is reported as itself.
func (watcher *Watcher) observe(path string) (observation, error) {
	linfo, err := os.Lstat(path)
	if err != nil {
		return observation{}, err
	}
	if linfo.Mode()&fs.ModeSymlink == 0 {
		return observation{info: linfo, kind: tree.KindOf(linfo)}, nil
	}
	target, _ := os.Readlink(path)
	if !watcher.options.FollowSymlinks {
		return observation{info: linfo, kind: tree.KindSymlink, target: target}, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return observation{info: linfo, kind: tree.KindSymlink, target: target}, nil
	}
	seen := observation{info: info, kind: tree.KindOf(info), target: target}
	if seen.kind != tree.KindDir {
		if real, err := filepath.EvalSymlinks(path); err == nil {
			seen.real = real
		}
	}
	return seen, nil
}

// scanRoot performs the synchronous walk of one root.
func (watcher *Watcher) scanRoot(r *root) {
	if _, err := os.Lstat(r.base()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			watcher.reportAccess(r.base(), err)
		}
		r.exists = false
		watcher.watchPath(r.base())
		watcher.logger.Debug("root missing", map[string]string{"base": r.base()})
		return
	}
	r.exists = true
	watcher.visit(r, r.base(), 0, make(map[string]struct{}), true)
}

// visit registers path for r and, for directories, everything below it. The
// chain holds the identities of the directories above path so that symlink
// loops stop after one lap.
func (watcher *Watcher) visit(r *root, path string, level int, chain map[string]struct{}, initial bool) {
	if level > 0 && watcher.excluded(path) {
		return
	}
	if watcher.ignored.ShouldIgnore(path, nil) {
		return
	}
	seen, err := watcher.observe(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			race := &RaceConditionError{Path: path, Err: err}
			watcher.logger.Debug(race.Error(), nil)
			return
		}
		watcher.reportAccess(path, err)
		return
	}
	if watcher.ignored.ShouldIgnore(path, seen.info) {
		return
	}

	reportable := r.accepts(path, level)
	if seen.kind != tree.KindDir {
		if !reportable {
			return
		}
		if logical, ok := watcher.swapFile(path); ok {
			watcher.extendHold(path, logical)
			return
		}
		watcher.record(r, path, seen, true, initial)
		if level == 0 {
			watcher.watchPath(path)
		}
		watcher.followLink(path, seen.real)
		return
	}

	traverse := r.traverses(path, level)
	if !reportable && !traverse {
		return
	}
	watcher.record(r, path, seen, reportable, initial)
	if !traverse {
		return
	}
	key := chainKey(path)
	if _, loop := chain[key]; loop {
		watcher.logger.Debug("symlink loop", map[string]string{"path": path, "target": seen.target})
		return
	}
	watcher.watchPath(path)
	names, err := readNames(path)
	if err != nil {
		watcher.reportAccess(path, err)
		return
	}
	chain[key] = struct{}{}
	for _, name := range names {
		watcher.visit(r, filepath.Join(path, name), level+1, chain, initial)
	}
	delete(chain, key)
}

// record stores path for r and announces it when it becomes visible.
func (watcher *Watcher) record(r *root, path string, seen observation, visible, initial bool) *tree.Entry {
	if entry, known := watcher.tree.Get(path); known {
		entry.AddOwner(r.id)
		if visible && !entry.Visible && entry.IsDir() {
			entry.Visible = true
			if !(initial && watcher.options.IgnoreInitial) {
				watcher.emit(OpAddDir, path, seen.info)
			}
		}
		return entry
	}

	entry := &tree.Entry{
		Path:   path,
		Kind:   seen.kind,
		Stat:   tree.StatOf(seen.info),
		Info:   seen.info,
		Target: seen.target,
	}
	entry.AddOwner(r.id)
	watcher.tree.Put(entry)
	watcher.registry.AddTrackedEntries(1)
	if !visible {
		return entry
	}
	if entry.IsDir() {
		entry.Visible = true
		if !(initial && watcher.options.IgnoreInitial) {
			watcher.emit(OpAddDir, path, seen.info)
		}
		return entry
	}
	watcher.announceFile(entry, seen, initial)
	return entry
}

// announceFile reports a newly seen file. A file that comes back while its
// unlink is held is a change, and only when its stats differ.
func (watcher *Watcher) announceFile(entry *tree.Entry, seen observation, initial bool) {
	if pending, ok := watcher.takePendingUnlink(entry.Path); ok {
		entry.Visible = true
		previous := pending.entry
		if previous.Stat.Changed(entry.Stat) || previous.Target != entry.Target {
			entry.Stat = previous.Stat
			watcher.announceChange(entry, seen)
		}
		return
	}
	if initial {
		entry.Visible = true
		if !watcher.options.IgnoreInitial {
			watcher.emit(OpAdd, entry.Path, seen.info)
		}
		return
	}
	if watcher.stabilizing() {
		watcher.tracker.Track(entry.Path, stabilize.KindAdd, seen.info)
		return
	}
	entry.Visible = true
	watcher.emit(OpAdd, entry.Path, seen.info)
}

func (watcher *Watcher) announceChange(entry *tree.Entry, seen observation) {
	entry.Target = seen.target
	if watcher.stabilizing() {
		watcher.tracker.Track(entry.Path, stabilize.KindChange, seen.info)
		return
	}
	entry.Stat = tree.StatOf(seen.info)
	entry.Info = seen.info
	watcher.emit(OpChange, entry.Path, seen.info)
}

// finishWrite announces a write once its stats have settled.
func (watcher *Watcher) finishWrite(write stabilize.PendingWrite) {
	entry, ok := watcher.tree.Get(write.Path)
	if !ok {
		return
	}
	entry.Stat = tree.StatOf(write.Last)
	entry.Info = write.Last
	if !entry.Visible {
		entry.Visible = true
		watcher.emit(OpAdd, write.Path, write.Last)
		return
	}
	watcher.emit(OpChange, write.Path, write.Last)
}

func (watcher *Watcher) stabilizing() bool {
	return watcher.options.AwaitWriteFinish != nil && watcher.readyEmitted
}

func (watcher *Watcher) watchPath(path string) {
	if _, ok := watcher.watching[path]; ok {
		return
	}
	if err := watcher.backend.Watch(path); err != nil {
		watcher.reportBackendError(path, err)
		return
	}
	watcher.watching[path] = struct{}{}
}

func (watcher *Watcher) unwatchPath(path string) {
	if _, ok := watcher.watching[path]; !ok {
		return
	}
	delete(watcher.watching, path)
	if err := watcher.backend.Unwatch(path); err != nil && !errors.Is(err, backend.ErrClosed) {
		watcher.logger.Debug("unwatch failed", map[string]string{"path": path, "error": err.Error()})
	}
}

func readNames(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// chainKey identifies the directory path resolves to, by device and inode
// where the platform has them and by real path otherwise.
func chainKey(path string) string {
	if id, err := tree.Resolve(path); err == nil && id.Valid() {
		return fmt.Sprintf("%d:%d", id.Dev, id.Ino)
	}
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	return path
}

// chainFor rebuilds the loop-detection chain for a directory reached by an
// event rather than by a walk from the root.
func (watcher *Watcher) chainFor(r *root, dir string) map[string]struct{} {
	chain := make(map[string]struct{})
	for current := dir; r.contains(current); current = filepath.Dir(current) {
		chain[chainKey(current)] = struct{}{}
		if current == r.base() {
			break
		}
	}
	return chain
}

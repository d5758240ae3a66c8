package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"
	"time"

	"pathwatch/internal/event"
	"pathwatch/internal/glob"
	"pathwatch/internal/metrics"
	"pathwatch/internal/tree"
)

const eventTimeout = 2 * time.Second

func newTestWatcher(t *testing.T, dir string, configure func(*Options)) *Watcher {
	t.Helper()
	options := DefaultOptions()
	options.Cwd = dir
	options.Registry = metrics.NewRegistry()
	if configure != nil {
		configure(&options)
	}
	watcher, err := NewWithOptions(options)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(func() {
		_ = watcher.Close()
	})
	return watcher
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func waitForOp(t *testing.T, events <-chan Event, op Op, path string) Event {
	t.Helper()
	return event.WaitFor(t, events, eventTimeout, func(candidate Event) bool {
		return candidate.Op == op && candidate.Path == path
	})
}

// collect gathers semantic events until window passes without one.
func collect(events <-chan Event, window time.Duration) []Event {
	var out []Event
	timer := time.NewTimer(window)
	defer timer.Stop()
	for {
		select {
		case received, ok := <-events:
			if !ok {
				return out
			}
			if received.Op.Semantic() {
				out = append(out, received)
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(window)
		case <-timer.C:
			return out
		}
	}
}

func countOps(events []Event, op Op, path string) int {
	count := 0
	for _, received := range events {
		if received.Op == op && received.Path == path {
			count++
		}
	}
	return count
}

func TestWatcherInitialScanEmitsEachEntryOnce(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "sub", "b.txt"), "b")

	watcher := newTestWatcher(t, dir, nil)
	events, cancel := watcher.Subscribe()
	defer cancel()

	if err := watcher.Add("."); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitForOp(t, events, OpReady, "")
	if watcher.State() != StateReady {
		t.Fatalf("expected ready state, got %s", watcher.State())
	}

	history := watcher.History(0)
	expected := []struct {
		op   Op
		path string
	}{
		{op: OpAddDir, path: "."},
		{op: OpAdd, path: "a.txt"},
		{op: OpAddDir, path: "sub"},
		{op: OpAdd, path: filepath.Join("sub", "b.txt")},
	}
	for _, want := range expected {
		if count := countOps(history, want.op, want.path); count != 1 {
			t.Fatalf("expected one %s for %s, got %d", want.op, want.path, count)
		}
	}
	if count := countOps(history, OpReady, ""); count != 1 {
		t.Fatalf("expected one ready, got %d", count)
	}
}

func TestWatcherAddIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")

	watcher := newTestWatcher(t, dir, nil)
	if err := watcher.Add("."); err != nil {
		t.Fatalf("add: %v", err)
	}
	events, cancel := watcher.Subscribe()
	defer cancel()
	if err := watcher.Add(".", "a.txt"); err != nil {
		t.Fatalf("add again: %v", err)
	}

	event.ExpectNone(t, events, 300*time.Millisecond, func(received Event) bool {
		return received.Op == OpAdd || received.Op == OpAddDir || received.Op == OpReady
	})
}

func TestWatcherReportsChangeAndUnlink(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "change.txt"), "b")
	writeFile(t, filepath.Join(dir, "unlink.txt"), "b")

	watcher := newTestWatcher(t, dir, func(options *Options) {
		options.IgnoreInitial = true
	})
	events, cancel := watcher.SubscribeAll()
	defer cancel()
	if err := watcher.Add("."); err != nil {
		t.Fatalf("add: %v", err)
	}

	writeFile(t, filepath.Join(dir, "change.txt"), time.Now().String())
	changed := waitForOp(t, events, OpChange, "change.txt")
	if changed.Info == nil {
		t.Fatal("expected stats on change")
	}

	if err := os.Remove(filepath.Join(dir, "unlink.txt")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	unlinked := waitForOp(t, events, OpUnlink, "unlink.txt")
	if unlinked.Info != nil {
		t.Fatalf("expected no stats on unlink, got %v", unlinked.Info)
	}

	rest := collect(events, 300*time.Millisecond)
	if count := countOps(rest, OpChange, "change.txt"); count != 0 {
		t.Fatalf("expected a single change, got %d more", count)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected events: %+v", rest)
	}
}

func TestWatcherIgnoreInitialStillTracksEntries(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")

	watcher := newTestWatcher(t, dir, func(options *Options) {
		options.IgnoreInitial = true
	})
	events, cancel := watcher.SubscribeAll()
	defer cancel()
	if err := watcher.Add("."); err != nil {
		t.Fatalf("add: %v", err)
	}
	event.ExpectNone(t, events, 200*time.Millisecond, func(Event) bool { return true })

	watched := watcher.GetWatched()
	if !reflect.DeepEqual(watched["."], []string{"a.txt"}) {
		t.Fatalf("expected a.txt under ., got %v", watched)
	}
}

func TestWatcherRenameOutsideAtomicWindow(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")

	watcher := newTestWatcher(t, dir, func(options *Options) {
		options.IgnoreInitial = true
	})
	events, cancel := watcher.SubscribeAll()
	defer cancel()
	if err := watcher.Add("."); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := os.Rename(filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.txt")); err != nil {
		t.Fatalf("rename: %v", err)
	}
	received := collect(events, 500*time.Millisecond)
	if countOps(received, OpUnlink, "a.txt") != 1 || countOps(received, OpAdd, "b.txt") != 1 {
		t.Fatalf("expected unlink a.txt and add b.txt, got %+v", received)
	}
	for _, item := range received {
		if item.Op == OpChange {
			t.Fatalf("unexpected change: %+v", item)
		}
	}
}

func TestWatcherAtomicSaveBecomesChange(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "doc.txt")
	writeFile(t, target, "first")

	watcher := newTestWatcher(t, dir, func(options *Options) {
		options.IgnoreInitial = true
		options.Atomic = AtomicWindow(300 * time.Millisecond)
	})
	events, cancel := watcher.SubscribeAll()
	defer cancel()
	if err := watcher.Add("."); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := os.Remove(target); err != nil {
		t.Fatalf("remove: %v", err)
	}
	writeFile(t, filepath.Join(dir, ".doc.txt.swp"), "swap")
	writeFile(t, target, "second version")

	received := collect(events, 600*time.Millisecond)
	if countOps(received, OpChange, "doc.txt") != 1 {
		t.Fatalf("expected one change for doc.txt, got %+v", received)
	}
	for _, item := range received {
		if item.Op == OpUnlink || item.Op == OpAdd {
			t.Fatalf("unexpected %s for %s", item.Op, item.Path)
		}
	}
}

func TestWatcherSwapWithoutReturnStillUnlinks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "doc.txt")
	writeFile(t, target, "first")

	watcher := newTestWatcher(t, dir, func(options *Options) {
		options.IgnoreInitial = true
		options.Atomic = AtomicWindow(200 * time.Millisecond)
	})
	events, cancel := watcher.SubscribeAll()
	defer cancel()
	if err := watcher.Add("."); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := os.Remove(target); err != nil {
		t.Fatalf("remove: %v", err)
	}
	writeFile(t, filepath.Join(dir, ".doc.txt.swp"), "swap")

	received := collect(events, 700*time.Millisecond)
	if countOps(received, OpUnlink, "doc.txt") != 1 {
		t.Fatalf("expected the held unlink once the window passed, got %+v", received)
	}
	for _, item := range received {
		if item.Path == ".doc.txt.swp" || item.Op == OpChange {
			t.Fatalf("unexpected %s for %s", item.Op, item.Path)
		}
	}
	if names := watcher.GetWatched()["."]; len(names) != 0 {
		t.Fatalf("expected nothing left under ., got %v", names)
	}
}

func TestWatcherHidesSwapFiles(t *testing.T) {
	dir := t.TempDir()
	watcher := newTestWatcher(t, dir, nil)
	if err := watcher.Add("."); err != nil {
		t.Fatalf("add: %v", err)
	}
	events, cancel := watcher.SubscribeAll()
	defer cancel()

	writeFile(t, filepath.Join(dir, "notes.txt~"), "backup")
	writeFile(t, filepath.Join(dir, "notes.txt"), "notes")
	waitForOp(t, events, OpAdd, "notes.txt")
	event.ExpectNone(t, events, 200*time.Millisecond, func(received Event) bool {
		return received.Path == "notes.txt~"
	})
	if names := watcher.GetWatched()["."]; !reflect.DeepEqual(names, []string{"notes.txt"}) {
		t.Fatalf("expected only notes.txt, got %v", names)
	}
}

func TestWatcherAwaitWriteFinishEmitsFinalSize(t *testing.T) {
	dir := t.TempDir()
	watcher := newTestWatcher(t, dir, func(options *Options) {
		options.AwaitWriteFinish = &AwaitWriteFinish{
			StabilityThreshold: 500 * time.Millisecond,
			PollInterval:       50 * time.Millisecond,
		}
	})
	if err := watcher.Add("."); err != nil {
		t.Fatalf("add: %v", err)
	}
	events, cancel := watcher.SubscribeAll()
	defer cancel()

	path := filepath.Join(dir, "slow.bin")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := file.Write([]byte("chunk-one")); err != nil {
		t.Fatalf("write first chunk: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := file.Write([]byte("chunk-two")); err != nil {
		t.Fatalf("write second chunk: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	added := waitForOp(t, events, OpAdd, "slow.bin")
	if added.Info == nil || added.Info.Size() != int64(len("chunk-onechunk-two")) {
		t.Fatalf("expected final size, got %+v", added.Info)
	}
	event.ExpectNone(t, events, 700*time.Millisecond, func(received Event) bool {
		return received.Path == "slow.bin"
	})
}

func TestWatcherAwaitWriteFinishDropsVanishedFile(t *testing.T) {
	dir := t.TempDir()
	watcher := newTestWatcher(t, dir, func(options *Options) {
		options.AwaitWriteFinish = &AwaitWriteFinish{
			StabilityThreshold: 400 * time.Millisecond,
			PollInterval:       50 * time.Millisecond,
		}
	})
	if err := watcher.Add("."); err != nil {
		t.Fatalf("add: %v", err)
	}
	events, cancel := watcher.SubscribeAll()
	defer cancel()

	path := filepath.Join(dir, "brief.txt")
	writeFile(t, path, "here")
	time.Sleep(150 * time.Millisecond)
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	event.ExpectNone(t, events, 800*time.Millisecond, func(received Event) bool {
		return received.Path == "brief.txt"
	})
}

func TestWatcherDepthZeroReportsBoundaryOnly(t *testing.T) {
	dir := t.TempDir()
	watcher := newTestWatcher(t, dir, func(options *Options) {
		options.Depth = Depth(0)
	})
	if err := watcher.Add("."); err != nil {
		t.Fatalf("add: %v", err)
	}
	events, cancel := watcher.SubscribeAll()
	defer cancel()

	writeFile(t, filepath.Join(dir, "subdir", "nested", "file.txt"), "deep")
	waitForOp(t, events, OpAddDir, "subdir")
	event.ExpectNone(t, events, 400*time.Millisecond, func(received Event) bool {
		return received.Path == filepath.Join("subdir", "nested", "file.txt") ||
			received.Path == filepath.Join("subdir", "nested")
	})
}

func TestWatcherGlobNegation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "ignored.txt"), "i")
	writeFile(t, filepath.Join(dir, "other.md"), "o")

	watcher := newTestWatcher(t, dir, nil)
	if err := watcher.Add("*.txt", "!ignored.txt"); err != nil {
		t.Fatalf("add: %v", err)
	}

	var adds []string
	for _, received := range watcher.History(0) {
		if received.Op == OpAdd || received.Op == OpAddDir {
			adds = append(adds, received.Path)
		}
	}
	if !reflect.DeepEqual(adds, []string{"a.txt"}) {
		t.Fatalf("expected only a.txt, got %v", adds)
	}
}

func TestWatcherGlobPicksUpNewMatches(t *testing.T) {
	dir := t.TempDir()
	watcher := newTestWatcher(t, dir, nil)
	if err := watcher.Add("**/*.go"); err != nil {
		t.Fatalf("add: %v", err)
	}
	events, cancel := watcher.SubscribeAll()
	defer cancel()

	writeFile(t, filepath.Join(dir, "pkg", "main.go"), "package main")
	writeFile(t, filepath.Join(dir, "pkg", "README"), "readme")
	waitForOp(t, events, OpAdd, filepath.Join("pkg", "main.go"))
	event.ExpectNone(t, events, 300*time.Millisecond, func(received Event) bool {
		return received.Path == filepath.Join("pkg", "README") || received.Op == OpAddDir
	})
}

func TestWatcherSymlinkLoopStillReady(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sub", "file.txt"), "x")
	if err := os.Symlink(dir, filepath.Join(dir, "sub", "loop")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	watcher := newTestWatcher(t, dir, nil)
	done := make(chan error, 1)
	go func() {
		done <- watcher.Add(".")
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("add: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("initial scan did not finish")
	}
	select {
	case <-watcher.Ready():
	default:
		t.Fatal("expected ready after add")
	}

	history := watcher.History(0)
	if countOps(history, OpAddDir, filepath.Join("sub", "loop")) != 1 {
		t.Fatalf("expected the loop link as a directory once, got %+v", history)
	}
	for _, item := range history {
		if tree.Under(filepath.Join("sub", "loop"), item.Path) && item.Path != filepath.Join("sub", "loop") {
			t.Fatalf("expected the walk to stop at the loop, got %s %s", item.Op, item.Path)
		}
	}
}

func TestWatcherUnfollowedSymlinkRetarget(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "b.txt"), "b")
	link := filepath.Join(dir, "current")
	if err := os.Symlink("a.txt", link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	watcher := newTestWatcher(t, dir, func(options *Options) {
		options.FollowSymlinks = false
		options.IgnoreInitial = true
	})
	if err := watcher.Add("."); err != nil {
		t.Fatalf("add: %v", err)
	}
	events, cancel := watcher.SubscribeAll()
	defer cancel()

	if err := os.Remove(link); err != nil {
		t.Fatalf("remove link: %v", err)
	}
	if err := os.Symlink("b.txt", link); err != nil {
		t.Fatalf("relink: %v", err)
	}
	waitForOp(t, events, OpChange, "current")
}

func TestWatcherFollowedLinkReportsTargetWrites(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	for _, polling := range []bool{false, true} {
		name := "native"
		if polling {
			name = "polling"
		}
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			outside, err := filepath.EvalSymlinks(t.TempDir())
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			target := filepath.Join(outside, "target.txt")
			writeFile(t, target, "first")
			if err := os.Symlink(target, filepath.Join(dir, "link.txt")); err != nil {
				t.Fatalf("symlink: %v", err)
			}

			watcher := newTestWatcher(t, dir, func(options *Options) {
				options.IgnoreInitial = true
				options.UsePolling = polling
				options.Interval = 20 * time.Millisecond
			})
			if err := watcher.Add("."); err != nil {
				t.Fatalf("add: %v", err)
			}
			events, cancel := watcher.SubscribeAll()
			defer cancel()

			writeFile(t, target, "second, and longer")
			waitForOp(t, events, OpChange, "link.txt")
			for _, item := range collect(events, 300*time.Millisecond) {
				if item.Path == "link.txt" {
					t.Fatalf("expected a single change, got another %s", item.Op)
				}
			}

			if err := os.Remove(filepath.Join(dir, "link.txt")); err != nil {
				t.Fatalf("remove link: %v", err)
			}
			waitForOp(t, events, OpUnlink, "link.txt")
			writeFile(t, target, "third")
			event.ExpectNone(t, events, 300*time.Millisecond, func(received Event) bool {
				return received.Path == "link.txt"
			})
		})
	}
}

func TestWatcherRemovedDirectoryUnlinksChildrenFirst(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sub", "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "sub", "b.txt"), "b")

	watcher := newTestWatcher(t, dir, func(options *Options) {
		options.IgnoreInitial = true
	})
	if err := watcher.Add("."); err != nil {
		t.Fatalf("add: %v", err)
	}
	events, cancel := watcher.SubscribeAll()
	defer cancel()

	if err := os.RemoveAll(filepath.Join(dir, "sub")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	received := collect(events, 500*time.Millisecond)
	dirIndex := -1
	for index, item := range received {
		if item.Op == OpUnlinkDir && item.Path == "sub" {
			dirIndex = index
		}
	}
	if dirIndex < 0 {
		t.Fatalf("expected unlinkDir sub, got %+v", received)
	}
	for _, name := range []string{"a.txt", "b.txt"} {
		path := filepath.Join("sub", name)
		found := false
		for index, item := range received {
			if item.Op == OpUnlink && item.Path == path {
				found = true
				if index > dirIndex {
					t.Fatalf("unlink %s came after unlinkDir", path)
				}
			}
		}
		if !found {
			t.Fatalf("expected unlink %s, got %+v", path, received)
		}
	}
}

func TestWatcherUnwatchSubpathThenReadd(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sub", "old.txt"), "old")

	watcher := newTestWatcher(t, dir, nil)
	if err := watcher.Add("."); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := watcher.Unwatch("sub"); err != nil {
		t.Fatalf("unwatch: %v", err)
	}
	if _, ok := watcher.GetWatched()["sub"]; ok {
		t.Fatal("expected sub to be dropped from the watched set")
	}
	events, cancel := watcher.SubscribeAll()
	defer cancel()

	writeFile(t, filepath.Join(dir, "sub", "new.txt"), "new")
	event.ExpectNone(t, events, 300*time.Millisecond, func(received Event) bool {
		return received.Path == filepath.Join("sub", "new.txt")
	})

	if err := watcher.Add("sub"); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	waitForOp(t, events, OpAdd, filepath.Join("sub", "new.txt"))
}

func TestWatcherUnwatchRootStopsEvents(t *testing.T) {
	dir := t.TempDir()
	watcher := newTestWatcher(t, dir, nil)
	if err := watcher.Add("."); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := watcher.Unwatch("."); err != nil {
		t.Fatalf("unwatch: %v", err)
	}
	events, cancel := watcher.SubscribeAll()
	defer cancel()

	writeFile(t, filepath.Join(dir, "late.txt"), "late")
	event.ExpectNone(t, events, 300*time.Millisecond, func(Event) bool { return true })
	if watched := watcher.GetWatched(); len(watched) != 0 {
		t.Fatalf("expected nothing watched, got %v", watched)
	}
}

func TestWatcherNonPersistentClosesAfterReady(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")

	watcher := newTestWatcher(t, dir, func(options *Options) {
		options.Persistent = false
	})
	if err := watcher.Add("."); err != nil {
		t.Fatalf("add: %v", err)
	}
	select {
	case <-watcher.Done():
	case <-time.After(eventTimeout):
		t.Fatal("watcher did not close itself")
	}
	if watcher.State() != StateClosed {
		t.Fatalf("expected closed, got %s", watcher.State())
	}
	if names := watcher.GetWatched()["."]; !reflect.DeepEqual(names, []string{"a.txt"}) {
		t.Fatalf("expected final snapshot, got %v", names)
	}
	if err := watcher.Add("."); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestWatcherGetWatchedRelativeToCwd(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "sub", "b.txt"), "b")

	watcher := newTestWatcher(t, dir, nil)
	if err := watcher.Add("."); err != nil {
		t.Fatalf("add: %v", err)
	}
	watched := watcher.GetWatched()
	if !reflect.DeepEqual(watched["."], []string{"a.txt", "sub"}) {
		t.Fatalf("unexpected . entry: %v", watched["."])
	}
	if !reflect.DeepEqual(watched["sub"], []string{"b.txt"}) {
		t.Fatalf("unexpected sub entry: %v", watched["sub"])
	}
	if !reflect.DeepEqual(watched[".."], []string{filepath.Base(dir)}) {
		t.Fatalf("unexpected .. entry: %v", watched[".."])
	}
}

func TestWatcherMissingRootIsPickedUp(t *testing.T) {
	dir := t.TempDir()
	watcher := newTestWatcher(t, dir, nil)
	if err := watcher.Add(filepath.Join("later", "file.txt")); err != nil {
		t.Fatalf("add: %v", err)
	}
	events, cancel := watcher.SubscribeAll()
	defer cancel()

	writeFile(t, filepath.Join(dir, "later", "file.txt"), "hello")
	waitForOp(t, events, OpAdd, filepath.Join("later", "file.txt"))
}

func TestWatcherPollingBackend(t *testing.T) {
	dir := t.TempDir()
	watcher := newTestWatcher(t, dir, func(options *Options) {
		options.UsePolling = true
		options.Interval = 20 * time.Millisecond
	})
	if err := watcher.Add("."); err != nil {
		t.Fatalf("add: %v", err)
	}
	events, cancel := watcher.SubscribeAll()
	defer cancel()

	writeFile(t, filepath.Join(dir, "polled.txt"), "p")
	waitForOp(t, events, OpAdd, "polled.txt")
	if err := os.Remove(filepath.Join(dir, "polled.txt")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	waitForOp(t, events, OpUnlink, "polled.txt")
}

func TestWatcherOnDeliversRawEvents(t *testing.T) {
	dir := t.TempDir()
	watcher := newTestWatcher(t, dir, nil)
	if err := watcher.Add("."); err != nil {
		t.Fatalf("add: %v", err)
	}
	raw := make(chan Event, 16)
	stop := watcher.On(OpRaw, func(received Event) {
		select {
		case raw <- received:
		default:
		}
	})
	defer stop()

	writeFile(t, filepath.Join(dir, "r.txt"), "r")
	received := event.WaitFor(t, raw, eventTimeout, func(candidate Event) bool {
		return candidate.Path == "r.txt"
	})
	if received.Raw == nil || received.Raw.Op == "" {
		t.Fatalf("expected backend label on raw event, got %+v", received.Raw)
	}
}

func TestWatcherAddRejectsBadInput(t *testing.T) {
	watcher := newTestWatcher(t, t.TempDir(), nil)
	if err := watcher.Add(); !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("expected ErrEmptyPath, got %v", err)
	}
	if err := watcher.Add(" "); !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("expected ErrEmptyPath, got %v", err)
	}
	var patternErr *glob.PatternError
	if err := watcher.Add("broken["); !errors.As(err, &patternErr) {
		t.Fatalf("expected pattern error, got %v", err)
	}
	if watcher.State() != StateInitializing {
		t.Fatalf("expected initializing, got %s", watcher.State())
	}
}

func TestWatcherCloseIsIdempotent(t *testing.T) {
	watcher := newTestWatcher(t, t.TempDir(), nil)
	events, _ := watcher.Subscribe()
	if err := watcher.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := watcher.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, ok := <-events; ok {
		t.Fatal("expected subscription to close")
	}
	if err := watcher.Unwatch("."); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

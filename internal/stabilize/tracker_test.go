package stabilize

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type fakeInfo struct {
	name    string
	size    int64
	modTime time.Time
}

func (info fakeInfo) Name() string       { return info.name }
func (info fakeInfo) Size() int64        { return info.size }
func (info fakeInfo) Mode() fs.FileMode  { return 0o644 }
func (info fakeInfo) ModTime() time.Time { return info.modTime }
func (info fakeInfo) IsDir() bool        { return false }
func (info fakeInfo) Sys() any           { return nil }

type fakeFS struct {
	mu    sync.Mutex
	files map[string]fakeInfo
}

func (f *fakeFS) set(path string, size int64) fakeInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := fakeInfo{name: filepath.Base(path), size: size, modTime: time.Unix(size, 0)}
	f.files[path] = info
	return info
}

func (f *fakeFS) remove(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
}

func (f *fakeFS) stat(path string) (fs.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return info, nil
}

type harness struct {
	tracker *Tracker
	mock    *clock.Mock
	files   *fakeFS
	stable  chan PendingWrite
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		mock:   clock.NewMock(),
		files:  &fakeFS{files: map[string]fakeInfo{}},
		stable: make(chan PendingWrite, 8),
	}
	h.tracker = New(Options{
		StabilityThreshold: 500 * time.Millisecond,
		PollInterval:       100 * time.Millisecond,
		Clock:              h.mock,
		Stat:               h.files.stat,
		OnStable: func(write PendingWrite) {
			h.stable <- write
		},
	})
	t.Cleanup(h.tracker.Close)
	return h
}

// advanceUntilStable moves the mock clock forward until a write settles.
func (h *harness) advanceUntilStable(t *testing.T) PendingWrite {
	t.Helper()
	for attempt := 0; attempt < 500; attempt++ {
		select {
		case write := <-h.stable:
			return write
		default:
		}
		h.mock.Add(50 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	t.Fatal("write never stabilized")
	return PendingWrite{}
}

func TestTrackerEmitsOnceWithFinalStats(t *testing.T) {
	h := newHarness(t)
	path := "/w/file.txt"
	first := h.files.set(path, 1)
	h.tracker.Track(path, KindAdd, first)

	h.mock.Add(50 * time.Millisecond)
	time.Sleep(time.Millisecond)
	second := h.files.set(path, 2)
	h.tracker.Track(path, KindChange, second)

	write := h.advanceUntilStable(t)
	if write.Kind != KindAdd {
		t.Fatalf("expected pending add to stay add, got %s", write.Kind)
	}
	if write.Last.Size() != 2 {
		t.Fatalf("expected final size 2, got %d", write.Last.Size())
	}
	if write.First.Size() != 1 {
		t.Fatalf("expected first size 1, got %d", write.First.Size())
	}
	if h.tracker.Pending(path) {
		t.Fatalf("expected path to be released")
	}

	select {
	case extra := <-h.stable:
		t.Fatalf("unexpected second emission %+v", extra)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestTrackerWaitsForThreshold(t *testing.T) {
	h := newHarness(t)
	path := "/w/slow.bin"
	h.tracker.Track(path, KindAdd, h.files.set(path, 1))

	start := h.mock.Now()
	write := h.advanceUntilStable(t)
	if elapsed := h.mock.Now().Sub(start); elapsed < 500*time.Millisecond {
		t.Fatalf("expected at least the stability threshold, got %s", elapsed)
	}
	if write.Path != path {
		t.Fatalf("unexpected path %q", write.Path)
	}
}

func TestTrackerPicksUpGrowthDuringPolls(t *testing.T) {
	h := newHarness(t)
	path := "/w/grow.log"
	h.tracker.Track(path, KindChange, h.files.set(path, 1))

	for size := int64(2); size <= 4; size++ {
		h.mock.Add(100 * time.Millisecond)
		time.Sleep(2 * time.Millisecond)
		h.files.set(path, size)
	}

	write := h.advanceUntilStable(t)
	if write.Last.Size() != 4 {
		t.Fatalf("expected final size 4, got %d", write.Last.Size())
	}
	if write.Kind != KindChange {
		t.Fatalf("expected change, got %s", write.Kind)
	}
}

func TestTrackerDiscardsVanishedFile(t *testing.T) {
	h := newHarness(t)
	path := "/w/gone.txt"
	h.tracker.Track(path, KindAdd, h.files.set(path, 1))
	h.files.remove(path)

	for attempt := 0; attempt < 20 && h.tracker.Pending(path); attempt++ {
		h.mock.Add(100 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	if h.tracker.Pending(path) {
		t.Fatalf("expected vanished file to be dropped")
	}
	select {
	case write := <-h.stable:
		t.Fatalf("unexpected emission %+v", write)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestTrackerCancelReturnsKind(t *testing.T) {
	h := newHarness(t)
	path := "/w/a.txt"
	h.tracker.Track(path, KindChange, h.files.set(path, 1))

	kind, ok := h.tracker.Cancel(path)
	if !ok || kind != KindChange {
		t.Fatalf("expected pending change, got %s %v", kind, ok)
	}
	if _, ok := h.tracker.Cancel(path); ok {
		t.Fatalf("expected second cancel to find nothing")
	}
	if h.tracker.Len() != 0 {
		t.Fatalf("expected empty tracker")
	}
}

func TestTrackerIgnoresTrackAfterClose(t *testing.T) {
	h := newHarness(t)
	h.tracker.Close()
	h.tracker.Track("/w/a", KindAdd, nil)
	if h.tracker.Pending("/w/a") {
		t.Fatalf("expected closed tracker to ignore Track")
	}
}

package tree

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newEntry(path string, kind Kind) *Entry {
	return &Entry{Path: path, Kind: kind, Visible: true}
}

func TestTreePutAndChildren(t *testing.T) {
	tr := New()
	if !tr.Put(newEntry("/w", KindDir)) {
		t.Fatalf("expected new entry")
	}
	tr.Put(newEntry("/w/b.txt", KindFile))
	tr.Put(newEntry("/w/a.txt", KindFile))
	if tr.Put(newEntry("/w/a.txt", KindFile)) {
		t.Fatalf("expected replacement to report existing path")
	}

	names := tr.ChildNames("/w")
	if len(names) != 2 || names[0] != "a.txt" || names[1] != "b.txt" {
		t.Fatalf("unexpected children: %v", names)
	}
	if tr.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", tr.Len())
	}
}

func TestTreeRemoveIsBottomUp(t *testing.T) {
	tr := New()
	for _, entry := range []*Entry{
		newEntry("/w", KindDir),
		newEntry("/w/sub", KindDir),
		newEntry("/w/sub/deep", KindDir),
		newEntry("/w/sub/deep/f.txt", KindFile),
		newEntry("/w/sub/a.txt", KindFile),
		newEntry("/w/other.txt", KindFile),
	} {
		tr.Put(entry)
	}

	removed := tr.Remove("/w/sub")
	want := []string{"/w/sub/a.txt", "/w/sub/deep/f.txt", "/w/sub/deep", "/w/sub"}
	if len(removed) != len(want) {
		t.Fatalf("expected %d removed, got %d", len(want), len(removed))
	}
	for i, entry := range removed {
		if entry.Path != want[i] {
			t.Fatalf("removed[%d] = %s, want %s", i, entry.Path, want[i])
		}
	}
	if _, ok := tr.Get("/w/sub/deep/f.txt"); ok {
		t.Fatalf("expected descendant to be gone")
	}
	if names := tr.ChildNames("/w"); len(names) != 1 || names[0] != "other.txt" {
		t.Fatalf("unexpected children after remove: %v", names)
	}
}

func TestTreeDescendants(t *testing.T) {
	tr := New()
	tr.Put(newEntry("/w/a", KindDir))
	tr.Put(newEntry("/w/a/b", KindFile))
	tr.Put(newEntry("/w/c", KindFile))

	got := tr.Descendants("/w")
	want := []string{"/w/a", "/w/a/b", "/w/c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestSnapshotRelativeToCwd(t *testing.T) {
	tr := New()
	tr.Put(newEntry("/w", KindDir))
	tr.Put(newEntry("/w/a.txt", KindFile))
	tr.Put(newEntry("/w/sub", KindDir))
	hidden := newEntry("/w/hidden", KindDir)
	hidden.Visible = false
	tr.Put(hidden)

	snapshot := tr.Snapshot("/w")
	if got := snapshot["."]; len(got) != 2 || got[0] != "a.txt" || got[1] != "sub" {
		t.Fatalf("unexpected cwd listing: %v", snapshot)
	}
	if got := snapshot[".."]; len(got) != 1 || got[0] != "w" {
		t.Fatalf("unexpected parent listing: %v", snapshot)
	}
	if got, ok := snapshot["sub"]; !ok || len(got) != 0 {
		t.Fatalf("expected empty listing for sub, got %v", snapshot)
	}
	if _, ok := snapshot["hidden"]; ok {
		t.Fatalf("expected traversal-only entry to be absent")
	}
}

func TestStatChangedIgnoresModeOnly(t *testing.T) {
	now := time.Now()
	base := Stat{Size: 3, ModTime: now, Mode: 0o644}
	if base.Changed(Stat{Size: 3, ModTime: now, Mode: 0o600}) {
		t.Fatalf("expected mode-only change to be ignored")
	}
	if !base.Changed(Stat{Size: 4, ModTime: now}) {
		t.Fatalf("expected size change")
	}
	if !base.Changed(Stat{Size: 3, ModTime: now.Add(time.Second)}) {
		t.Fatalf("expected mtime change")
	}
}

func TestKindOfAndResolve(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	link := filepath.Join(dir, "l")
	if err := os.Symlink(file, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	info, err := os.Lstat(link)
	if err != nil {
		t.Fatalf("lstat: %v", err)
	}
	if KindOf(info) != KindSymlink {
		t.Fatalf("expected symlink kind, got %s", KindOf(info))
	}
	dirInfo, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if KindOf(dirInfo) != KindDir {
		t.Fatalf("expected dir kind")
	}

	viaLink, err := Resolve(link)
	if err != nil {
		t.Fatalf("resolve link: %v", err)
	}
	direct, err := Resolve(file)
	if err != nil {
		t.Fatalf("resolve file: %v", err)
	}
	if viaLink != direct {
		t.Fatalf("expected link and target to share identity: %+v %+v", viaLink, direct)
	}
	if _, err := Resolve(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("expected error for missing path")
	}
}

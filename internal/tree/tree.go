package tree

import (
	"path/filepath"
	"sort"
	"strings"
)

type Tree struct {
	entries  map[string]*Entry
	children map[string]map[string]struct{}
}

func New() *Tree {
	return &Tree{
		entries:  make(map[string]*Entry),
		children: make(map[string]map[string]struct{}),
	}
}

func (t *Tree) Get(path string) (*Entry, bool) {
	entry, ok := t.entries[path]
	return entry, ok
}

// Put stores entry under its path, replacing any previous entry, and reports
// whether the path was new.
func (t *Tree) Put(entry *Entry) bool {
	_, exists := t.entries[entry.Path]
	t.entries[entry.Path] = entry
	if !exists {
		parent := filepath.Dir(entry.Path)
		if parent != entry.Path {
			names, ok := t.children[parent]
			if !ok {
				names = make(map[string]struct{})
				t.children[parent] = names
			}
			names[filepath.Base(entry.Path)] = struct{}{}
		}
	}
	return !exists
}

// Remove deletes path and everything below it. The removed entries are
// returned with children ahead of their parent, siblings in name order.
func (t *Tree) Remove(path string) []*Entry {
	var removed []*Entry
	t.collect(path, &removed)
	for _, entry := range removed {
		delete(t.entries, entry.Path)
		delete(t.children, entry.Path)
		parent := filepath.Dir(entry.Path)
		if names, ok := t.children[parent]; ok {
			delete(names, filepath.Base(entry.Path))
			if len(names) == 0 {
				delete(t.children, parent)
			}
		}
	}
	return removed
}

func (t *Tree) collect(path string, removed *[]*Entry) {
	for _, name := range t.ChildNames(path) {
		t.collect(filepath.Join(path, name), removed)
	}
	if entry, ok := t.entries[path]; ok {
		*removed = append(*removed, entry)
	}
}

// ChildNames returns the sorted names of the tracked direct children of path.
func (t *Tree) ChildNames(path string) []string {
	names := t.children[path]
	if len(names) == 0 {
		return nil
	}
	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Descendants returns every tracked path strictly below path, sorted.
func (t *Tree) Descendants(path string) []string {
	var out []string
	for _, name := range t.ChildNames(path) {
		child := filepath.Join(path, name)
		out = append(out, child)
		out = append(out, t.Descendants(child)...)
	}
	return out
}

func (t *Tree) Len() int {
	return len(t.entries)
}

// Paths returns every tracked path, sorted.
func (t *Tree) Paths() []string {
	out := make([]string, 0, len(t.entries))
	for path := range t.entries {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Walk visits entries in path order until fn returns false.
func (t *Tree) Walk(fn func(*Entry) bool) {
	for _, path := range t.Paths() {
		if !fn(t.entries[path]) {
			return
		}
	}
}

// Under reports whether path equals root or lies below it.
func Under(root, path string) bool {
	if root == path {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

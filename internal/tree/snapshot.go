package tree

import (
	"path/filepath"
	"sort"
)

// Snapshot maps every directory holding a visible entry, and every visible
// directory, to the sorted names of its visible children. Keys are made
// relative to cwd when it is set; cwd itself becomes ".".
func (t *Tree) Snapshot(cwd string) map[string][]string {
	sets := make(map[string]map[string]struct{})
	add := func(dir, name string) {
		names, ok := sets[dir]
		if !ok {
			names = make(map[string]struct{})
			sets[dir] = names
		}
		if name != "" {
			names[name] = struct{}{}
		}
	}
	for _, entry := range t.entries {
		if !entry.Visible {
			continue
		}
		parent := filepath.Dir(entry.Path)
		if parent != entry.Path {
			add(parent, filepath.Base(entry.Path))
		}
		if entry.IsDir() {
			add(entry.Path, "")
		}
	}

	out := make(map[string][]string, len(sets))
	for dir, names := range sets {
		list := make([]string, 0, len(names))
		for name := range names {
			list = append(list, name)
		}
		sort.Strings(list)
		out[displayKey(cwd, dir)] = list
	}
	return out
}

func displayKey(cwd, dir string) string {
	if cwd == "" {
		return dir
	}
	rel, err := filepath.Rel(cwd, dir)
	if err != nil {
		return dir
	}
	return rel
}

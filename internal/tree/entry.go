// Package tree holds the in-memory model of everything a watcher tracks.
//
// A Tree is owned by a single goroutine and is not safe for concurrent use.
package tree

import (
	"io/fs"
	"time"
)

type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
)

func (kind Kind) String() string {
	switch kind {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// KindOf classifies stats. Symlinks are only reported as such when info came
// from an lstat.
func KindOf(info fs.FileInfo) Kind {
	if info == nil {
		return KindFile
	}
	mode := info.Mode()
	switch {
	case mode&fs.ModeSymlink != 0:
		return KindSymlink
	case mode.IsDir():
		return KindDir
	default:
		return KindFile
	}
}

// Identity is the device and inode pair of a file. The zero value means the
// platform could not provide one.
type Identity struct {
	Dev uint64
	Ino uint64
}

func (id Identity) Valid() bool {
	return id.Dev != 0 || id.Ino != 0
}

// Stat is the part of fs.FileInfo the watcher compares between observations.
type Stat struct {
	Size     int64
	ModTime  time.Time
	Mode     fs.FileMode
	Identity Identity
}

func StatOf(info fs.FileInfo) Stat {
	if info == nil {
		return Stat{}
	}
	return Stat{
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Mode:     info.Mode(),
		Identity: identityOf(info),
	}
}

// Changed reports a content change. Only size and mtime count, so access-time
// and permission updates never register.
func (s Stat) Changed(other Stat) bool {
	return s.Size != other.Size || !s.ModTime.Equal(other.ModTime)
}

type Entry struct {
	Path string
	Kind Kind
	Stat Stat
	Info fs.FileInfo
	// Target is the link destination when the entry is a symlink, or when it
	// was reached through one.
	Target string
	// Owners are the ids of the roots that reach this entry.
	Owners map[int]struct{}
	// Visible entries are reported to subscribers. Directories recorded
	// only for traversal, such as those between a glob base and its matches,
	// and files whose add is still being held, are not.
	Visible bool
}

func (entry *Entry) IsDir() bool {
	return entry != nil && entry.Kind == KindDir
}

func (entry *Entry) AddOwner(id int) {
	if entry.Owners == nil {
		entry.Owners = make(map[int]struct{})
	}
	entry.Owners[id] = struct{}{}
}

func (entry *Entry) RemoveOwner(id int) {
	delete(entry.Owners, id)
}

func (entry *Entry) OwnedBy(id int) bool {
	_, ok := entry.Owners[id]
	return ok
}

//go:build unix

package tree

import (
	"io/fs"
	"syscall"

	"golang.org/x/sys/unix"
)

func identityOf(info fs.FileInfo) Identity {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok || st == nil {
		return Identity{}
	}
	return Identity{Dev: uint64(st.Dev), Ino: uint64(st.Ino)}
}

// Resolve returns the identity of the file path refers to, following
// symlinks.
func Resolve(path string) (Identity, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return Identity{}, &fs.PathError{Op: "stat", Path: path, Err: err}
	}
	return Identity{Dev: uint64(st.Dev), Ino: uint64(st.Ino)}, nil
}

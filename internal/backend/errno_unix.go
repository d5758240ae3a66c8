//go:build unix

package backend

import "golang.org/x/sys/unix"

// errNotDirectory is returned by stat when a path component is a file.
var errNotDirectory error = unix.ENOTDIR

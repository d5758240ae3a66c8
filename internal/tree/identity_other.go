//go:build !unix

package tree

import (
	"io/fs"
	"os"
)

func identityOf(fs.FileInfo) Identity {
	return Identity{}
}

// Resolve returns the zero Identity on platforms without inode numbers; it
// still fails when path does not resolve.
func Resolve(path string) (Identity, error) {
	if _, err := os.Stat(path); err != nil {
		return Identity{}, err
	}
	return Identity{}, nil
}

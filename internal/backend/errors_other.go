//go:build !unix

package backend

import (
	"errors"
	"io/fs"
)

func isPermission(err error) bool {
	return errors.Is(err, fs.ErrPermission)
}

func isExhausted(error) bool {
	return false
}

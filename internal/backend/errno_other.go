//go:build !unix

package backend

import "errors"

var errNotDirectory = errors.New("not a directory")

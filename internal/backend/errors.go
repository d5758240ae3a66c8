package backend

import (
	"errors"
	"fmt"
)

var (
	ErrClosed             = errors.New("backend is closed")
	ErrMaxWatchesExceeded = errors.New("max watches exceeded")
)

// AccessError reports a path the process may not read. The path is skipped;
// other watches are unaffected.
type AccessError struct {
	Path string
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("access denied: %s: %v", e.Path, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// BackendError reports a failure of the notification subsystem itself, such
// as watch-descriptor exhaustion. Fatal errors mean the backend stopped
// delivering events for Path (or for everything when Path is empty).
type BackendError struct {
	Op    string
	Path  string
	Err   error
	Fatal bool
}

func (e *BackendError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("backend %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// classify wraps a raw watch error in the typed error callers branch on.
func classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if isPermission(err) {
		return &AccessError{Path: path, Err: err}
	}
	return &BackendError{Op: op, Path: path, Err: err, Fatal: isExhausted(err)}
}

// IsExhausted reports whether err means the system ran out of watch
// resources.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrMaxWatchesExceeded) || isExhausted(err)
}

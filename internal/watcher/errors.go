package watcher

import (
	"errors"
	"fmt"
)

var (
	ErrClosed    = errors.New("watcher is closed")
	ErrEmptyPath = errors.New("path is required")
)

// RaceConditionError records a path that vanished between being listed and
// being statted. It is treated as "does not exist" and only logged.
type RaceConditionError struct {
	Path string
	Err  error
}

func (e *RaceConditionError) Error() string {
	return fmt.Sprintf("path vanished before stat: %s: %v", e.Path, e.Err)
}

func (e *RaceConditionError) Unwrap() error {
	return e.Err
}

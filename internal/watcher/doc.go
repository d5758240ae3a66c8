// Package watcher reports filesystem changes under a set of roots as
// add, addDir, change, unlink and unlinkDir events.
//
// A Watcher turns the unreliable hints of a backend (native notifications or
// stat polling) into exactly-once semantic events by keeping an in-memory tree
// of everything it has reported and re-statting each path it hears about. All
// tree state is owned by one reconciler goroutine; subscribers receive events
// over an event.Bus and may be slow without blocking one another.
package watcher

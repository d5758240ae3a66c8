package event

import (
	"sync"
	"testing"
	"time"
)

// EventCollector stores events received from callbacks or subscriptions.
type EventCollector[T any] struct {
	mu     sync.Mutex
	events []T
}

func NewEventCollector[T any]() *EventCollector[T] {
	return &EventCollector[T]{}
}

func (collector *EventCollector[T]) Collect(event T) {
	if collector == nil {
		return
	}
	collector.mu.Lock()
	collector.events = append(collector.events, event)
	collector.mu.Unlock()
}

func (collector *EventCollector[T]) Events() []T {
	if collector == nil {
		return nil
	}
	collector.mu.Lock()
	defer collector.mu.Unlock()
	copyEvents := make([]T, len(collector.events))
	copy(copyEvents, collector.events)
	return copyEvents
}

// Drain copies everything from ch into the collector until ch closes.
func (collector *EventCollector[T]) Drain(ch <-chan T) {
	for event := range ch {
		collector.Collect(event)
	}
}

// ReceiveWithTimeout waits for a single event or fails the test.
func ReceiveWithTimeout[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case event, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return event
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for event after %s", timeout)
	}
	var zero T
	return zero
}

// WaitFor reads from ch until match accepts an event or the timeout expires.
// Events that do not match are discarded.
func WaitFor[T any](t *testing.T, ch <-chan T, timeout time.Duration, match func(T) bool) T {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				t.Fatal("event channel closed")
			}
			if match(event) {
				return event
			}
		case <-deadline.C:
			t.Fatalf("timed out waiting for matching event after %s", timeout)
			var zero T
			return zero
		}
	}
}

// ExpectNone fails the test if ch delivers an event accepted by match within
// the window.
func ExpectNone[T any](t *testing.T, ch <-chan T, window time.Duration, match func(T) bool) {
	t.Helper()
	deadline := time.NewTimer(window)
	defer deadline.Stop()
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			if match(event) {
				t.Fatalf("unexpected event: %+v", event)
			}
		case <-deadline.C:
			return
		}
	}
}

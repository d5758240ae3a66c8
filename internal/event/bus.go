// Package event fans typed events out to subscribers over buffered channels
// and keeps a short history for subscribers that join late.
package event

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"pathwatch/internal/buffer"
	"pathwatch/internal/logging"
	"pathwatch/internal/metrics"
)

const (
	defaultSubscriberBufferSize = 128
	defaultDropWarningInterval  = 30 * time.Second
	unknownType                 = "unknown"
)

// Typed is implemented by events that carry a type label. The label is used
// for metrics and by SubscribeTypes.
type Typed interface {
	Type() string
}

type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	// BlockOnFull makes Publish wait up to WriteTimeout for a subscriber whose
	// buffer is full. A subscriber that stays full is evicted and its channel
	// closed. Without it, events for a full subscriber are dropped.
	BlockOnFull  bool
	WriteTimeout time.Duration
	// HistorySize is how many published events History can return.
	HistorySize int
	// DropWarningInterval limits how often dropped events are logged.
	DropWarningInterval time.Duration
	Registry            *metrics.Registry
	Logger              *logging.Logger
	Clock               clock.Clock
}

type subscriber[T any] struct {
	id     uint64
	ch     chan T
	accept func(T) bool
}

// Bus delivers each published event to every subscriber whose filter accepts
// it, in publish order.
type Bus[T any] struct {
	options  BusOptions
	registry *metrics.Registry
	logger   *logging.Logger
	clock    clock.Clock

	mu          sync.Mutex
	subscribers map[uint64]*subscriber[T]
	nextID      uint64
	closed      bool
	history     *buffer.Ring[T]
	closeOnce   sync.Once

	dropped     atomic.Int64
	lastWarning atomic.Int64
}

// NewBus creates a bus that closes itself when ctx is done.
func NewBus[T any](ctx context.Context, options BusOptions) *Bus[T] {
	if options.Name == "" {
		options.Name = "events"
	}
	if options.SubscriberBufferSize <= 0 {
		options.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	if options.DropWarningInterval <= 0 {
		options.DropWarningInterval = defaultDropWarningInterval
	}
	bus := &Bus[T]{
		options:     options,
		registry:    options.Registry,
		logger:      options.Logger,
		clock:       options.Clock,
		subscribers: make(map[uint64]*subscriber[T]),
	}
	if options.HistorySize > 0 {
		bus.history = buffer.NewRing[T](options.HistorySize)
	}
	if bus.registry == nil {
		bus.registry = metrics.Default
	}
	if bus.logger == nil {
		bus.logger = logging.Discard()
	}
	if bus.clock == nil {
		bus.clock = clock.New()
	}
	bus.logger = bus.logger.With(map[string]string{
		logging.FieldCategory: "bus",
		"bus":                 options.Name,
	})
	if ctx != nil {
		if done := ctx.Done(); done != nil {
			go func() {
				<-done
				bus.Close()
			}()
		}
	}
	return bus
}

func closedChannel[T any]() <-chan T {
	ch := make(chan T)
	close(ch)
	return ch
}

func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	return b.SubscribeFiltered(nil)
}

// SubscribeFiltered delivers the events accepted by filter, or every event
// when filter is nil. The returned func cancels the subscription and closes
// the channel.
func (b *Bus[T]) SubscribeFiltered(filter func(T) bool) (<-chan T, func()) {
	if b == nil {
		return closedChannel[T](), func() {}
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return closedChannel[T](), func() {}
	}
	b.nextID++
	sub := &subscriber[T]{
		id:     b.nextID,
		ch:     make(chan T, b.options.SubscriberBufferSize),
		accept: filter,
	}
	b.subscribers[sub.id] = sub
	b.reportSubscribersLocked()
	b.mu.Unlock()

	return sub.ch, func() { b.evict(sub.id) }
}

// SubscribeTypes delivers only events whose Type is one of eventTypes. Events
// that do not implement Typed never match. With no types the channel is
// closed immediately.
func (b *Bus[T]) SubscribeTypes(eventTypes ...string) (<-chan T, func()) {
	wanted := make(map[string]struct{}, len(eventTypes))
	for _, eventType := range eventTypes {
		if eventType != "" {
			wanted[eventType] = struct{}{}
		}
	}
	if len(wanted) == 0 {
		return closedChannel[T](), func() {}
	}
	return b.SubscribeFiltered(func(event T) bool {
		typed, ok := any(event).(Typed)
		if !ok {
			return false
		}
		_, matched := wanted[typed.Type()]
		return matched
	})
}

func (b *Bus[T]) Publish(event T) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if b.history != nil {
		b.history.Add(event)
	}
	targets := make([]*subscriber[T], 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	eventType := typeOf(event)
	b.registry.IncEventPublished(b.options.Name, eventType)
	for _, sub := range targets {
		if !b.accepts(sub, event) {
			continue
		}
		if b.deliver(sub, event) {
			continue
		}
		b.registry.IncEventDropped(b.options.Name, eventType)
		b.warnDropped(eventType)
		if b.options.BlockOnFull {
			b.evict(sub.id)
		}
	}
}

// deliver reports whether sub received event. A send racing with the
// subscriber's cancellation counts as not delivered.
func (b *Bus[T]) deliver(sub *subscriber[T], event T) (delivered bool) {
	defer func() {
		if recover() != nil {
			delivered = false
		}
	}()
	if !b.options.BlockOnFull {
		select {
		case sub.ch <- event:
			return true
		default:
			return false
		}
	}
	if b.options.WriteTimeout <= 0 {
		sub.ch <- event
		return true
	}
	timer := b.clock.Timer(b.options.WriteTimeout)
	defer timer.Stop()
	select {
	case sub.ch <- event:
		return true
	case <-timer.C:
		return false
	}
}

func (b *Bus[T]) accepts(sub *subscriber[T], event T) (accepted bool) {
	if sub.accept == nil {
		return true
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			b.logger.Error("subscriber filter panicked", map[string]string{"panic": fmt.Sprint(recovered)})
			b.evict(sub.id)
			accepted = false
		}
	}()
	return sub.accept(event)
}

func (b *Bus[T]) warnDropped(eventType string) {
	total := b.dropped.Add(1)
	now := b.clock.Now().UnixNano()
	last := b.lastWarning.Load()
	if last != 0 && time.Duration(now-last) < b.options.DropWarningInterval {
		return
	}
	if !b.lastWarning.CompareAndSwap(last, now) {
		return
	}
	b.logger.Warn("events dropped for a slow subscriber", map[string]string{
		"type":    eventType,
		"dropped": strconv.FormatInt(total, 10),
	})
}

func (b *Bus[T]) evict(id uint64) {
	if b == nil {
		return
	}
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		b.reportSubscribersLocked()
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

func (b *Bus[T]) reportSubscribersLocked() {
	filtered, unfiltered := 0, 0
	for _, sub := range b.subscribers {
		if sub.accept == nil {
			unfiltered++
		} else {
			filtered++
		}
	}
	b.registry.SetEventSubscriberCounts(b.options.Name, filtered, unfiltered)
}

// Close closes every subscriber channel. Publish is a no-op afterwards.
func (b *Bus[T]) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		subscribers := b.subscribers
		b.subscribers = make(map[uint64]*subscriber[T])
		b.reportSubscribersLocked()
		b.mu.Unlock()

		for _, sub := range subscribers {
			close(sub.ch)
		}
	})
}

func (b *Bus[T]) Closed() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bus[T]) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// History returns up to count of the newest published events, oldest first.
// A count of zero or less returns everything kept.
func (b *Bus[T]) History(count int) []T {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.Last(count)
}

func typeOf(event any) string {
	typed, ok := event.(Typed)
	if !ok {
		return unknownType
	}
	if value := typed.Type(); value != "" {
		return value
	}
	return unknownType
}

package watcher

import "sync"

// queue is the reconciler's unbounded FIFO. Producers never block, so timer
// and backend goroutines can always hand work over.
type queue struct {
	mutex  sync.Mutex
	items  []func()
	signal chan struct{}
	closed bool
}

func newQueue() *queue {
	return &queue{signal: make(chan struct{}, 1)}
}

func (queue *queue) push(item func()) bool {
	queue.mutex.Lock()
	if queue.closed {
		queue.mutex.Unlock()
		return false
	}
	queue.items = append(queue.items, item)
	queue.mutex.Unlock()

	select {
	case queue.signal <- struct{}{}:
	default:
	}
	return true
}

func (queue *queue) pop() (func(), bool) {
	queue.mutex.Lock()
	defer queue.mutex.Unlock()
	if len(queue.items) == 0 {
		return nil, false
	}
	item := queue.items[0]
	queue.items[0] = nil
	queue.items = queue.items[1:]
	if len(queue.items) == 0 {
		queue.items = nil
	}
	return item, true
}

// close rejects further pushes and discards whatever is still queued.
func (queue *queue) close() {
	queue.mutex.Lock()
	queue.closed = true
	queue.items = nil
	queue.mutex.Unlock()
}

func (queue *queue) len() int {
	queue.mutex.Lock()
	defer queue.mutex.Unlock()
	return len(queue.items)
}

package app

import "sync"

// defaultQueueDepth bounds how many turns may wait per user before the
// transport pushes back.
const defaultQueueDepth = 16

// Dispatcher applies queued turns in arrival order per user while
// distinct users run in parallel. The Matrix sync loop delivers events
// one at a time, so enqueueing synchronously from its callback fixes the
// per-user order; a worker goroutine per user then drains the queue.
//
// Workers are created on a user's first turn and retained for the
// process lifetime, like sessions.
type Dispatcher struct {
	mu     sync.Mutex
	queues map[string]chan func()
	depth  int
	stopCh chan struct{}
}

// NewDispatcher creates a Dispatcher. depth <= 0 uses the default.
func NewDispatcher(depth int) *Dispatcher {
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	return &Dispatcher{
		queues: make(map[string]chan func()),
		depth:  depth,
		stopCh: make(chan struct{}),
	}
}

// Enqueue places task behind the user's earlier turns. It reports false
// when the user's queue is full; the task is dropped and the caller
// should push back on the user instead of blocking the event loop.
func (d *Dispatcher) Enqueue(userID string, task func()) bool {
	d.mu.Lock()
	q, ok := d.queues[userID]
	if !ok {
		q = make(chan func(), d.depth)
		d.queues[userID] = q
		go d.drain(q)
	}
	d.mu.Unlock()

	select {
	case q <- task:
		return true
	default:
		return false
	}
}

// Stop terminates the workers. Tasks still queued are dropped.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
}

func (d *Dispatcher) drain(q chan func()) {
	for {
		select {
		case <-d.stopCh:
			return
		case task := <-q:
			task()
		}
	}
}

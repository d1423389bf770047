package capture

import "sync"

// serialQueue runs submitted work one item at a time, in submission
// order, on a goroutine started by spawn. Work pushed while an item runs
// is picked up by the same drain loop.
type serialQueue struct {
	spawn func(func())

	mu      sync.Mutex
	pending []func()
	running bool
	idle    *sync.Cond
}

func newSerialQueue(spawn func(func())) *serialQueue {
	q := &serialQueue{spawn: spawn}
	q.idle = sync.NewCond(&q.mu)
	return q
}

func (q *serialQueue) push(f func()) {
	q.mu.Lock()
	q.pending = append(q.pending, f)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	q.spawn(q.drain)
}

func (q *serialQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		f := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		f()
	}
}

// wait blocks until the queue is empty and nothing is running.
func (q *serialQueue) wait() {
	q.mu.Lock()
	for q.running {
		q.idle.Wait()
	}
	q.mu.Unlock()
}

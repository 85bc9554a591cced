package prefetch

import "sync"

// serialQueue runs posted functions one at a time in FIFO order. A single
// drain goroutine exists while the queue is non-empty and exits when it runs
// dry, so an idle Prefetcher holds no goroutines.
type serialQueue struct {
	mu      sync.Mutex
	pending []func()
	running bool
}

// post enqueues fn. It never blocks on fn or on earlier functions.
func (q *serialQueue) post(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	if !q.running {
		q.running = true
		go q.drain()
	}
	q.mu.Unlock()
}

func (q *serialQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.pending = nil
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		fn()
	}
}

package engine

import (
	"context"
	"sync"
)

// job is one unit of work for a session.
type job struct {
	ctx  context.Context
	fn   func(context.Context)
	done chan struct{}
}

// worker drains the FIFO of one session.
type worker struct {
	jobs []*job
}

// Queue serializes work per key (session id) while letting different keys
// run in parallel.
//
// Each key with queued work has exactly one worker goroutine. The worker
// runs jobs in arrival order and exits as soon as its FIFO is empty, so idle
// sessions cost nothing. Enqueueing and the worker's exit check both happen
// under mu, so a job is never stranded on an exiting worker.
//
// Thread-safety: all methods may be called from any goroutine.
type Queue struct {
	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{workers: make(map[string]*worker)}
}

// Do runs fn on key's worker after every job queued before it and waits for
// it to finish. If ctx ends first, Do returns ctx's error; a job whose
// context ended before it started is skipped, and one already running sees
// the cancellation through its ctx.
func (q *Queue) Do(ctx context.Context, key string, fn func(ctx context.Context)) error {
	j := &job{ctx: ctx, fn: fn, done: make(chan struct{})}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	w, ok := q.workers[key]
	if !ok {
		w = &worker{}
		q.workers[key] = w
		q.wg.Add(1)
		go q.run(key, w)
	}
	w.jobs = append(w.jobs, j)
	q.mu.Unlock()

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run(key string, w *worker) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(w.jobs) == 0 {
			delete(q.workers, key)
			q.mu.Unlock()
			return
		}
		j := w.jobs[0]
		// Nil out the slot so the backing array does not retain the job.
		w.jobs[0] = nil
		w.jobs = w.jobs[1:]
		q.mu.Unlock()

		if j.ctx.Err() == nil {
			j.fn(j.ctx)
		}
		close(j.done)
	}
}

// Active returns the number of keys with a live worker.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.workers)
}

// Close rejects new work and waits for queued jobs to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}

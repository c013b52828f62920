// Package queue provides the bounded worker queues that drive the
// crawl, redirect, media and optimization pipelines. The width bounds
// concurrency; the backlog itself is unbounded (the title scheduler
// applies its own back-pressure on the redirect queue).
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/openzim/mwoffliner/pkg/metrics"
)

// Task is one unit of queued work.
type Task func()

// Queue runs tasks on a fixed number of workers.
type Queue struct {
	name    string
	workers int

	mu      sync.Mutex
	cond    *sync.Cond
	backlog []Task
	pending int // queued + running
	closed  bool

	wg sync.WaitGroup
}

// New starts a queue with the given worker width.
func New(name string, width int) *Queue {
	if width < 1 {
		width = 1
	}
	q := &Queue{name: name, workers: width}
	q.cond = sync.NewCond(&q.mu)
	for i := 0; i < width; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.backlog) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.backlog) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		task := q.backlog[0]
		q.backlog = q.backlog[1:]
		q.mu.Unlock()

		task()

		q.mu.Lock()
		q.pending--
		metrics.QueueDepth.WithLabelValues(q.name).Set(float64(q.pending))
		q.mu.Unlock()
	}
}

// Push enqueues a task. Pushing to a closed queue drops the task.
func (q *Queue) Push(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.backlog = append(q.backlog, task)
	q.pending++
	metrics.QueueDepth.WithLabelValues(q.name).Set(float64(q.pending))
	q.cond.Signal()
}

// Len returns queued plus running tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Wait blocks until the queue has fully quiesced: it polls for
// idleness every second, then pushes a sentinel task and waits for it
// to drain. The sentinel guarantees that work enqueued by in-flight
// tasks has completed too.
func (q *Queue) Wait(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for q.Len() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	done := make(chan struct{})
	q.Push(func() { close(done) })
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Close stops the workers after the backlog drains.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
	q.wg.Wait()
}

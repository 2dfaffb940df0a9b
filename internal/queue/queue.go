// Package queue serializes mutations against a store: one worker goroutine
// runs submitted jobs strictly one at a time in submission order.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"table-service/internal/logger"
)

var ErrQueueClosed = errors.New("mutation queue is closed")

// PanicError is returned to the submitter of a job that panicked.
type PanicError struct {
	Op    string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("mutation %s panicked: %v", e.Op, e.Value)
}

const (
	jobQueued int32 = iota
	jobStarted
	jobAbandoned
)

type job struct {
	ctx   context.Context
	op    string
	fn    func(ctx context.Context) error
	done  chan error
	state *atomic.Int32
}

type Queue struct {
	name string
	jobs chan job
	log  *logger.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func New(name string, buffer int, log *logger.Logger) *Queue {
	if buffer < 0 {
		buffer = 0
	}
	q := &Queue{
		name: name,
		jobs: make(chan job, buffer),
		log:  log,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) run() {
	defer q.wg.Done()
	for j := range q.jobs {
		j.done <- q.execute(j)
	}
}

func (q *Queue) execute(j job) (err error) {
	// skip work nobody is waiting for anymore
	if !j.state.CompareAndSwap(jobQueued, jobStarted) {
		q.log.LogQueue(q.name, j.op, "Skipping cancelled job")
		return context.Canceled
	}

	defer func() {
		if r := recover(); r != nil {
			q.log.Error("QUEUE", fmt.Sprintf("Job %s on %s panicked: %v\n%s", j.op, q.name, r, debug.Stack()))
			err = &PanicError{Op: j.op, Value: r}
		}
	}()

	q.log.LogQueue(q.name, j.op, "Running job")
	return j.fn(context.WithoutCancel(j.ctx))
}

// Do submits fn and blocks until it has run. The error returned is fn's own,
// a *PanicError, ErrQueueClosed, or the context error when ctx ends while the
// job is still waiting. Once the worker has picked a job up it runs to the
// end under a context that is never cancelled, and Do waits for its result.
func (q *Queue) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	j := job{ctx: ctx, op: op, fn: fn, done: make(chan error, 1), state: new(atomic.Int32)}

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	select {
	case q.jobs <- j:
		q.mu.RUnlock()
	case <-ctx.Done():
		q.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		if j.state.CompareAndSwap(jobQueued, jobAbandoned) {
			return ctx.Err()
		}
		return <-j.done
	}
}

// Close stops accepting jobs and waits until everything already queued has
// been processed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	q.log.LogQueue(q.name, "CLOSE", "Queue drained")
}

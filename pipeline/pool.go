package pipeline

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned by tasks submitted after WorkerPool.Close.
var ErrPoolClosed = errors.New("worker pool closed")

// WorkerPool runs submitted functions with bounded concurrency.
type WorkerPool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewWorkerPool creates a pool running at most workers functions at once.
func NewWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{sem: semaphore.NewWeighted(int64(workers))}
}

// Task is the handle of a submitted function.
type Task struct {
	done chan struct{}
	err  error
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

func (t *Task) complete(err error) {
	t.err = err
	close(t.done)
}

// Done is closed when the task finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finished or ctx ends, and returns the task's
// error (or ctx's).
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the task error once Done is closed, nil before.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Go submits fn. The function waits for a free worker; if ctx ends first the
// task completes with ErrInterrupted and fn never runs.
func (p *WorkerPool) Go(ctx context.Context, fn func(ctx context.Context) error) *Task {
	t := newTask()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		t.complete(ErrPoolClosed)
		return t
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			t.complete(ErrInterrupted)
			return
		}
		defer p.sem.Release(1)
		t.complete(fn(ctx))
	}()
	return t
}

// Close stops accepting work and waits for submitted functions to return.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(2)
	var running, peak atomic.Int32

	tasks := make([]*Task, 8)
	for i := range tasks {
		tasks[i] = pool.Go(context.Background(), func(context.Context) error {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		})
	}
	pool.Close()

	for _, task := range tasks {
		select {
		case <-task.Done():
		default:
			t.Fatal("task not done after Close")
		}
		if task.Err() != nil {
			t.Errorf("task error = %v", task.Err())
		}
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestWorkerPool_CancelledBeforeStart(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Close()

	release := make(chan struct{})
	pool.Go(context.Background(), func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	task := pool.Go(ctx, func(context.Context) error {
		ran.Store(true)
		return nil
	})
	cancel()
	if err := task.Wait(context.Background()); !errors.Is(err, ErrInterrupted) {
		t.Errorf("Wait() = %v, want ErrInterrupted", err)
	}
	close(release)
	if ran.Load() {
		t.Error("cancelled task ran")
	}
}

func TestWorkerPool_Closed(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Close()
	task := pool.Go(context.Background(), func(context.Context) error { return nil })
	if err := task.Wait(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Wait() = %v, want ErrPoolClosed", err)
	}
}

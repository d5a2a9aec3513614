package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunState_AcquireRelease(t *testing.T) {
	s := newRunState()
	tok := newRunToken(context.Background())

	handled, err := s.acquire(tok, false, true)
	if handled || err != nil {
		t.Fatalf("acquire() = %v, %v", handled, err)
	}
	if snap := s.snapshot(); !snap.updating {
		t.Fatal("not updating after acquire")
	}
	s.release(tok)
	if snap := s.snapshot(); snap.updating {
		t.Fatal("still updating after release")
	}
}

func TestRunState_CancelledWaiterCleansUp(t *testing.T) {
	s := newRunState()
	owner := newRunToken(context.Background())
	if _, err := s.acquire(owner, false, true); err != nil {
		t.Fatal(err)
	}

	waiter := newRunToken(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.acquire(waiter, false, false)
		done <- err
	}()
	waitUntil(t, "queued waiter", func() bool { return s.snapshot().queued })

	s.interrupt()
	if err := recvErr(t, done); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("waiter error = %v, want ErrInterrupted", err)
	}
	snap := s.snapshot()
	if snap.queued {
		t.Error("queued flag left set by cancelled waiter")
	}
	if owner.ctx.Err() == nil {
		t.Error("owner was not interrupted")
	}
	if !errors.Is(context.Cause(owner.ctx), ErrInterrupted) {
		t.Errorf("cause = %v, want ErrInterrupted", context.Cause(owner.ctx))
	}
}

func TestRunState_OutputLockWaitsForProducer(t *testing.T) {
	s := newRunState()
	owner := newRunToken(context.Background())
	if _, err := s.acquire(owner, false, true); err != nil {
		t.Fatal(err)
	}

	locked := make(chan error, 1)
	go func() { locked <- s.lockOutput(context.Background()) }()
	select {
	case <-locked:
		t.Fatal("lockOutput returned while producer updating")
	case <-time.After(20 * time.Millisecond):
	}

	s.release(owner)
	if err := recvErr(t, locked); err != nil {
		t.Fatal(err)
	}
	if s.snapshot().outputLocks != 1 {
		t.Fatalf("outputLocks = %d, want 1", s.snapshot().outputLocks)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	next := newRunToken(ctx)
	if _, err := s.acquire(next, false, true); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("acquire() under lock error = %v, want ErrInterrupted", err)
	}
	if s.snapshot().updating {
		t.Error("timed-out acquire left the step updating")
	}

	s.unlockOutput()
	s.unlockOutput()
	if s.snapshot().outputLocks != 0 {
		t.Error("outputLocks went negative or stayed locked")
	}
}

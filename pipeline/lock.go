package pipeline

import (
	"context"
	"sync"
	"time"
)

// runToken is the cancellation handle of one acquired (or queued) run.
type runToken struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

func newRunToken(parent context.Context) *runToken {
	ctx, cancel := context.WithCancelCause(parent)
	return &runToken{ctx: ctx, cancel: cancel}
}

func (t *runToken) interrupt() {
	t.cancel(ErrInterrupted)
}

// runState is the per-step concurrency state. One mutex guards every field;
// each wait has its own condition.
type runState struct {
	mu sync.Mutex

	updatingCond *sync.Cond
	queuedCond   *sync.Cond
	outputCond   *sync.Cond

	updating bool
	owner    *runToken

	queued bool
	holder *runToken

	outputLocks int

	lastRun        time.Time
	computingError bool
}

func newRunState() *runState {
	s := &runState{}
	s.updatingCond = sync.NewCond(&s.mu)
	s.queuedCond = sync.NewCond(&s.mu)
	s.outputCond = sync.NewCond(&s.mu)
	return s
}

// waitFor blocks on c until done holds or ctx ends. c.L must be held.
func waitFor(ctx context.Context, c *sync.Cond, done func() bool) error {
	if done() {
		return nil
	}
	stop := context.AfterFunc(ctx, func() {
		c.L.Lock()
		c.Broadcast()
		c.L.Unlock()
	})
	defer stop()
	for !done() {
		if ctx.Err() != nil {
			return ErrInterrupted
		}
		c.Wait()
	}
	return nil
}

// acquire makes tok the owner of the step. When another run holds the step
// and a request is already queued, a coalescable request is dropped and
// handled is true. With interrupt set the current owner is cancelled first.
func (s *runState) acquire(tok *runToken, interrupt, coalescable bool) (handled bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.updating {
		if interrupt && s.owner != nil {
			s.owner.interrupt()
		}
		if s.queued && coalescable {
			return true, nil
		}
		if err := waitFor(tok.ctx, s.queuedCond, func() bool { return !s.queued }); err != nil {
			return false, err
		}
		if s.updating {
			s.queued = true
			s.holder = tok
			err := waitFor(tok.ctx, s.updatingCond, func() bool { return !s.updating })
			s.queued = false
			s.holder = nil
			s.queuedCond.Broadcast()
			if err != nil {
				return false, err
			}
		}
	}
	s.updating = true
	s.owner = tok

	if err := waitFor(tok.ctx, s.outputCond, func() bool { return s.outputLocks == 0 }); err != nil {
		s.releaseLocked(tok)
		return false, err
	}
	return false, nil
}

func (s *runState) release(tok *runToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(tok)
}

func (s *runState) releaseLocked(tok *runToken) {
	if s.owner != tok {
		return
	}
	s.updating = false
	s.owner = nil
	s.updatingCond.Broadcast()
}

// lockOutput pins the step's outputs: it waits until the step is not
// running and counts the lock in the same critical section.
func (s *runState) lockOutput(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := waitFor(ctx, s.updatingCond, func() bool { return !s.updating }); err != nil {
		return err
	}
	s.outputLocks++
	return nil
}

func (s *runState) unlockOutput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outputLocks > 0 {
		s.outputLocks--
	}
	s.outputCond.Broadcast()
}

// interrupt cancels the running and the queued request, if any.
func (s *runState) interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != nil {
		s.owner.interrupt()
	}
	if s.holder != nil {
		s.holder.interrupt()
	}
}

// touch stamps the end of a run, whatever its outcome.
func (s *runState) touch(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = at
}

func (s *runState) setComputingError(failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computingError = failed
}

func (s *runState) lastRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *runState) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = time.Time{}
	s.computingError = false
}

type runSnapshot struct {
	updating       bool
	queued         bool
	outputLocks    int
	lastRun        time.Time
	computingError bool
}

func (s *runState) snapshot() runSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return runSnapshot{
		updating:       s.updating,
		queued:         s.queued,
		outputLocks:    s.outputLocks,
		lastRun:        s.lastRun,
		computingError: s.computingError,
	}
}

// Package lane runs student calls on a single execution slot that is
// separate from the goroutine waiting for them.
package lane

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrDeadline means the job was started but did not finish in time.
	// It keeps running in the background until it returns.
	ErrDeadline = errors.New("execution deadline exceeded")
	// ErrBusy means an abandoned job still holds the slot.
	ErrBusy   = errors.New("execution lane busy")
	ErrClosed = errors.New("execution lane closed")
)

const (
	running int32 = iota
	finished
	abandoned
)

// Job is handed the per-call context. Jobs should observe ctx so that an
// abandoned job frees the slot soon after its deadline.
type Job func(ctx context.Context) error

// Lane is a single-slot executor owned by one worker.
type Lane struct {
	slot      chan struct{}
	abandoned atomic.Int32
	closed    atomic.Bool
	wg        sync.WaitGroup
}

func New() *Lane {
	return &Lane{slot: make(chan struct{}, 1)}
}

// Run executes job on the lane and waits until it returns or ctx is done,
// whichever happens first. When ctx ends first the job is abandoned and
// ErrDeadline is returned; the slot stays occupied until the job returns,
// and later calls fail with ErrBusy if it is still occupied when their own
// ctx ends.
func (l *Lane) Run(ctx context.Context, job Job) error {
	if l.closed.Load() {
		return ErrClosed
	}
	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		if l.abandoned.Load() > 0 {
			return ErrBusy
		}
		return ErrDeadline
	}
	if err := ctx.Err(); err != nil {
		<-l.slot
		return ErrDeadline
	}

	l.wg.Add(1)
	done := make(chan error, 1)
	var state atomic.Int32 // running, finished or abandoned
	go func() {
		defer l.wg.Done()
		defer func() {
			if !state.CompareAndSwap(running, finished) {
				l.abandoned.Add(-1)
			}
			<-l.slot
		}()
		done <- runJob(ctx, job)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		l.abandoned.Add(1)
		if state.CompareAndSwap(running, abandoned) {
			return ErrDeadline
		}
		// finished at the same instant
		l.abandoned.Add(-1)
		return <-done
	}
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(ctx)
}

// Abandoned is the number of jobs whose caller gave up but that have not
// returned yet.
func (l *Lane) Abandoned() int {
	return int(l.abandoned.Load())
}

// Close rejects further jobs. It does not wait for an abandoned job; use
// Wait for that.
func (l *Lane) Close() {
	l.closed.Store(true)
}

// Wait blocks until every started job has returned or ctx is done.
func (l *Lane) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package scheduler

import (
	"context"
	"fmt"
	"sync"
)

// Latch is an n-party barrier with abort support.
//
// Each party calls Join once. The party whose Join brings the count to zero
// runs the completion callback and then releases everybody. If the latch is
// aborted before that, every current and future joiner gets an *AbortedError
// carrying the first abort cause. Completion and abort are mutually exclusive:
// once the count has reached zero, Abort is a no-op.
type Latch struct {
	mu         sync.Mutex
	remaining  int
	onComplete func() error
	cause      error
	released   chan struct{} // closed on completion
	aborted    chan struct{} // closed on abort
}

// NewLatch creates a latch for n parties. onComplete may be nil; if it
// returns an error the latch is aborted with that error instead of released.
func NewLatch(n int, onComplete func() error) (*Latch, error) {
	if n < 1 {
		return nil, fmt.Errorf("latch size %d: %w", n, ErrInvalidArgument)
	}
	return &Latch{
		remaining:  n,
		onComplete: onComplete,
		released:   make(chan struct{}),
		aborted:    make(chan struct{}),
	}, nil
}

// Join arrives at the barrier and waits until all parties have arrived.
// A cancelled ctx while waiting aborts the latch with context.Cause(ctx),
// which releases every other party too.
func (l *Latch) Join(ctx context.Context) error {
	l.mu.Lock()
	if l.cause != nil {
		err := l.abortedError()
		l.mu.Unlock()
		return err
	}
	if l.remaining == 0 {
		l.mu.Unlock()
		return fmt.Errorf("latch already released: %w", ErrIllegalState)
	}
	l.remaining--
	if l.remaining == 0 {
		l.mu.Unlock()
		return l.complete()
	}
	l.mu.Unlock()

	select {
	case <-l.released:
		return nil
	case <-l.aborted:
		return l.AbortCause()
	case <-ctx.Done():
		l.Abort(context.Cause(ctx))
		// Completion may have won the race.
		select {
		case <-l.released:
			return nil
		case <-l.aborted:
			return l.AbortCause()
		}
	}
}

// complete runs the callback outside the lock, then releases or aborts.
func (l *Latch) complete() error {
	var err error
	if l.onComplete != nil {
		err = l.onComplete()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.cause = err
		close(l.aborted)
		return l.abortedError()
	}
	close(l.released)
	return nil
}

// Abort records cause and wakes every waiting party with an *AbortedError.
// Only the first call has an effect, and a latch whose count already reached
// zero cannot be aborted. A nil cause is replaced by ErrAborted.
func (l *Latch) Abort(cause error) {
	if cause == nil {
		cause = ErrAborted
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cause != nil || l.remaining == 0 {
		return
	}
	l.cause = cause
	close(l.aborted)
}

// AbortCause returns the *AbortedError for an aborted latch, or nil.
func (l *Latch) AbortCause() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cause == nil {
		return nil
	}
	return l.abortedError()
}

// Remaining returns the number of parties that have not joined yet.
func (l *Latch) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining
}

func (l *Latch) abortedError() error {
	return &AbortedError{Cause: l.cause}
}

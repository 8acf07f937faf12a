package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewLatchInvalidSize(t *testing.T) {
	for _, n := range []int{0, -1, -50} {
		if _, err := NewLatch(n, nil); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("NewLatch(%d): expected ErrInvalidArgument, got %v", n, err)
		}
	}
}

// TestLatchCompletionFiresOnce joins every latch size from 1 to 50 in random
// arrival order and checks the callback ran exactly once.
func TestLatchCompletionFiresOnce(t *testing.T) {
	for n := 1; n <= 50; n++ {
		var fired atomic.Int32
		l, err := NewLatch(n, func() error {
			fired.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("NewLatch(%d): %v", n, err)
		}

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for _, delay := range rand.Perm(n) {
			wg.Add(1)
			go func(d time.Duration) {
				defer wg.Done()
				time.Sleep(d * time.Microsecond)
				errs <- l.Join(context.Background())
			}(time.Duration(delay))
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			if err != nil {
				t.Fatalf("n=%d: unexpected join error: %v", n, err)
			}
		}
		if got := fired.Load(); got != 1 {
			t.Fatalf("n=%d: expected callback once, got %d", n, got)
		}
	}
}

// TestLatchNeedsAllParties checks n-1 joins do not complete the latch.
func TestLatchNeedsAllParties(t *testing.T) {
	const n = 5
	var fired atomic.Int32
	l, _ := NewLatch(n, func() error {
		fired.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < n-1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Join(context.Background())
		}()
	}
	waitFor(t, "n-1 joins", func() bool { return l.Remaining() == 1 })
	if fired.Load() != 0 {
		t.Fatal("callback fired before the last party joined")
	}

	if err := l.Join(context.Background()); err != nil {
		t.Fatalf("last join: %v", err)
	}
	wg.Wait()
	if fired.Load() != 1 {
		t.Fatalf("expected callback once, got %d", fired.Load())
	}
}

func TestLatchAbortBeforeJoin(t *testing.T) {
	cause := errors.New("node went away")
	l, _ := NewLatch(3, nil)
	l.Abort(cause)

	for i := 0; i < 3; i++ {
		done := make(chan error, 1)
		go func() { done <- l.Join(context.Background()) }()
		select {
		case err := <-done:
			if !errors.Is(err, ErrAborted) {
				t.Fatalf("expected ErrAborted, got %v", err)
			}
			if !errors.Is(err, cause) {
				t.Fatalf("expected cause %v in %v", cause, err)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("join blocked on an aborted latch")
		}
	}
}

func TestLatchAbortIsIdempotent(t *testing.T) {
	first := errors.New("first")
	l, _ := NewLatch(2, nil)
	l.Abort(first)
	l.Abort(errors.New("second"))

	err := l.Join(context.Background())
	var ae *AbortedError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *AbortedError, got %T", err)
	}
	if ae.Cause != first {
		t.Errorf("expected first cause to stick, got %v", ae.Cause)
	}
}

func TestLatchAbortNilCause(t *testing.T) {
	l, _ := NewLatch(1, nil)
	l.Abort(nil)
	if err := l.Join(context.Background()); !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
}

func TestLatchAbortReleasesWaiters(t *testing.T) {
	cause := errors.New("stop")
	l, _ := NewLatch(3, nil)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- l.Join(context.Background()) }()
	}
	waitFor(t, "two waiters", func() bool { return l.Remaining() == 1 })
	l.Abort(cause)

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, cause) {
				t.Errorf("waiter %d: expected cause, got %v", i, err)
			}
		case <-time.After(time.Second):
			t.Fatal("waiter not released by abort")
		}
	}
}

func TestLatchAbortAfterReleaseIsNoop(t *testing.T) {
	l, _ := NewLatch(1, nil)
	if err := l.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	l.Abort(errors.New("late"))
	if err := l.AbortCause(); err != nil {
		t.Errorf("expected no abort cause after release, got %v", err)
	}
	if err := l.Join(context.Background()); !errors.Is(err, ErrIllegalState) {
		t.Errorf("expected ErrIllegalState joining a released latch, got %v", err)
	}
}

func TestLatchCallbackErrorAborts(t *testing.T) {
	boom := errors.New("callback failed")
	l, _ := NewLatch(2, func() error { return boom })

	other := make(chan error, 1)
	go func() { other <- l.Join(context.Background()) }()
	waitFor(t, "first party", func() bool { return l.Remaining() == 1 })

	if err := l.Join(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("closing party: expected callback error, got %v", err)
	}
	if err := <-other; !errors.Is(err, boom) {
		t.Fatalf("waiting party: expected callback error, got %v", err)
	}
}

func TestLatchJoinCancelledContext(t *testing.T) {
	cause := errors.New("interrupted")
	l, _ := NewLatch(2, nil)

	ctx, cancel := context.WithCancelCause(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Join(ctx) }()
	waitFor(t, "waiter", func() bool { return l.Remaining() == 1 })
	cancel(cause)

	select {
	case err := <-done:
		if !errors.Is(err, ErrAborted) || !errors.Is(err, cause) {
			t.Fatalf("expected aborted with cause, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled join did not return")
	}
	if err := l.Join(context.Background()); !errors.Is(err, cause) {
		t.Errorf("expected the latch to stay aborted, got %v", err)
	}
}

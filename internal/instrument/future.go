package instrument

import (
	"context"
	"fmt"
	"sync"
)

// PanicError carries a value recovered from a panicking asynchronous
// handler.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

// Future is the pending result of an asynchronous handler.
type Future struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error

	mu      sync.Mutex
	settled bool
	waiters []func(any, error)
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Go runs fn on its own goroutine and returns a future that settles with its
// result. A panic inside fn rejects the future with a *PanicError.
func Go(fn func() (any, error)) *Future {
	f := newFuture()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				f.settle(nil, &PanicError{Value: r})
			}
		}()
		v, err := fn()
		f.settle(v, err)
	}()
	return f
}

// Resolved returns an already settled future holding v.
func Resolved(v any) *Future {
	f := newFuture()
	f.settle(v, nil)
	return f
}

// Rejected returns an already settled future holding err.
func Rejected(err error) *Future {
	f := newFuture()
	f.settle(nil, err)
	return f
}

func (f *Future) settle(v any, err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.value = v
		f.err = err
		f.settled = true
		waiters := f.waiters
		f.waiters = nil
		f.mu.Unlock()
		for _, fn := range waiters {
			fn(v, err)
		}
		close(f.done)
	})
}

// then runs fn with the result once f settles, on the settling goroutine,
// before Done is closed. If f already settled, fn runs immediately. A
// future that never settles never runs fn and holds no goroutine.
func (f *Future) then(fn func(any, error)) {
	f.mu.Lock()
	if !f.settled {
		f.waiters = append(f.waiters, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	fn(v, err)
}

// Done is closed once the future has settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future settles or ctx is done. A cancelled wait
// does not cancel the underlying computation.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result blocks until the future settles.
func (f *Future) Result() (any, error) {
	<-f.done
	return f.value, f.err
}

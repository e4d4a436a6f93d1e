package instrument

import (
	"time"
)

// settlement describes how a timed invocation finished.
type settlement struct {
	value      any
	err        error
	panicked   bool
	panicValue any
	deferred   bool
	elapsed    time.Duration
}

// timer measures wall-clock time from just before invocation to just after
// settlement. The settle callback runs before the result is handed back to
// the caller and must not panic.
type timer struct {
	now func() time.Time
}

func (t timer) since(start time.Time) time.Duration {
	d := t.now().Sub(start)
	if d < 0 {
		return 0
	}
	return d
}

// runSync times fn. A panic in fn is reported to settle and then re-raised
// with the original value.
func (t timer) runSync(fn func() (any, error), settle func(settlement)) (any, error) {
	start := t.now()
	returned := false
	defer func() {
		if returned {
			return
		}
		r := recover()
		if r == nil {
			// runtime.Goexit
			return
		}
		settle(settlement{panicked: true, panicValue: r, elapsed: t.since(start)})
		panic(r)
	}()
	v, err := fn()
	returned = true
	settle(settlement{value: v, err: err, elapsed: t.since(start)})
	return v, err
}

// runAsync times start and the full settlement of the future it returns.
// The returned future settles with the same value or error, after settle
// has run. Nothing waits on a future that never settles.
func (t timer) runAsync(start func() *Future, settle func(settlement)) *Future {
	begin := t.now()
	var pending *Future
	t.runSync(func() (any, error) {
		pending = start()
		return nil, nil
	}, func(s settlement) {
		if s.panicked {
			settle(s)
		}
	})
	if pending == nil {
		pending = Resolved(nil)
	}
	out := newFuture()
	pending.then(func(v any, err error) {
		settle(settlement{value: v, err: err, deferred: true, elapsed: t.since(begin)})
		out.settle(v, err)
	})
	return out
}

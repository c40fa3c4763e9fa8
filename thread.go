// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"fmt"

	"moonwake.dev/lua/internal/lua54"
)

// ThreadStatus describes whether a coroutine can be resumed.
type ThreadStatus int

//go:generate go tool stringer -type=ThreadStatus -linecomment

const (
	// StatusResumable marks a coroutine that is fresh or suspended at
	// a yield.
	StatusResumable ThreadStatus = iota // resumable
	// StatusUnresumable marks a coroutine that has finished, or died
	// without ever starting. Terminal.
	StatusUnresumable // unresumable
	// StatusError marks a coroutine that raised an error during a
	// prior resume. Terminal.
	StatusError // error
)

// A Thread is a handle to an interpreter coroutine. Its body function
// runs on the coroutine's own execution stack, suspending at yields
// and resuming with arguments.
//
// Resume cycles are serialized across goroutines, so separate
// goroutines may each drive their own Thread against one runtime. All
// other Thread methods are confined to the runtime's owning context.
type Thread struct {
	r      *Runtime
	ref    *Ref
	failed bool
}

// NewThread creates a coroutine whose body is fn.
func (r *Runtime) NewThread(fn Value) (*Thread, error) {
	var ref *Ref
	err := r.Protected(3, 0, func(l *lua54.State) error {
		if err := r.push(l, fn); err != nil {
			return err
		}
		if !l.IsFunction(-1) {
			return fmt.Errorf("lua: new thread: not a function (got %v)", l.Type(-1))
		}
		co := l.NewThread()
		l.PushValue(-2)
		lua54.XMove(l, co, 1)
		ref = r.refAt(l, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Thread{r: r, ref: ref}, nil
}

// Release drops the handle keeping the coroutine alive. A suspended
// coroutine that is never resumed again is collected by the
// interpreter; it is never unwound.
func (t *Thread) Release() {
	t.ref.Release()
}

// state returns a fresh view of the coroutine's execution stack, or
// nil if the handle no longer resolves to a thread.
func (t *Thread) state() *lua54.State {
	l := &t.r.state
	l.SyncTop()
	if !l.CheckStack(3) {
		return nil
	}
	l.RawField(lua54.RegistryIndex, refsKey)
	l.RawIndex(-1, int64(t.ref.slot))
	co := l.ToThread(-1)
	l.Pop(2)
	return co
}

// Status inspects the coroutine's state. A coroutine suspended at a
// yield, or not yet started with its initial call still parked, is
// resumable. A recorded error is terminal, as is a finished
// coroutine. Status never executes interpreter code.
func (t *Thread) Status() ThreadStatus {
	if t.failed {
		return StatusError
	}
	if t.r.isClosed() || t.ref.released {
		return StatusUnresumable
	}
	co := t.state()
	if co == nil {
		return StatusUnresumable
	}
	switch st := co.Status(); {
	case st == lua54.Yield:
		return StatusResumable
	case st != lua54.Ok:
		return StatusError
	case co.Top() > 0:
		return StatusResumable
	default:
		return StatusUnresumable
	}
}

// Resume runs the coroutine until it yields, returns, or fails,
// passing args to the suspension point (or to the body function on
// the first resume). It returns the yielded or returned values. If
// the coroutine is not resumable, Resume fails with
// [ErrCoroutineInactive] before any interpreter code runs. If the
// coroutine raises an error, the thread transitions permanently to
// [StatusError] and the captured *[RuntimeError] is returned.
func (t *Thread) Resume(args ...Value) ([]Value, error) {
	r := t.r
	r.resumeMu.Lock()
	defer r.resumeMu.Unlock()
	if err := r.enter(); err != nil {
		return nil, err
	}
	r.drainPending()
	vals, _, err := t.resume(args, false)
	return vals, err
}

// resumeOutcome classifies how a resume cycle ended.
type resumeOutcome int

const (
	outcomeReturn  resumeOutcome = iota // coroutine finished
	outcomeYield                        // coroutine yielded values
	outcomePending                      // coroutine yielded the pending sentinel
)

// resume performs one resume cycle. The caller must hold resumeMu and
// have passed the enter gate. When detectPending is set, a yield of
// exactly the pending sentinel is classified as outcomePending and
// produces no values.
func (t *Thread) resume(args []Value, detectPending bool) ([]Value, resumeOutcome, error) {
	r := t.r
	if t.Status() != StatusResumable {
		return nil, 0, ErrCoroutineInactive
	}
	co := t.state()
	if co == nil {
		return nil, 0, ErrCoroutineInactive
	}
	if !co.CheckStack(len(args) + 2) {
		return nil, 0, ErrStackOverflow
	}

	base := co.Top()
	for _, a := range args {
		if err := r.push(co, a); err != nil {
			co.SetTop(base)
			return nil, 0, err
		}
	}

	nres, yielded, rerr := co.Resume(&r.state, len(args))
	if rerr != nil {
		// The error value is on top of the coroutine's stack and its
		// frames are still intact; capture the traceback across them
		// before discarding anything.
		main := &r.state
		main.Traceback(co, "", 0)
		tb, _ := main.ToString(-1)
		main.Pop(1)
		co.SetTop(0)
		t.failed = true
		r.checkPanic()
		return nil, 0, asRuntimeError(rerr, tb)
	}

	if detectPending && yielded && nres == 1 &&
		co.Type(-1) == lua54.TypeLightUserdata && co.ToPointer(-1) == co.Sentinel() {
		co.Pop(1)
		r.checkPanic()
		return nil, outcomePending, nil
	}

	vals, verr := r.values(co, co.Top()-nres+1, co.Top())
	if verr != nil {
		co.Pop(nres)
		r.checkPanic()
		return nil, 0, verr
	}
	co.Pop(nres)
	r.checkPanic()
	if yielded {
		return vals, outcomeYield, nil
	}
	return vals, outcomeReturn, nil
}

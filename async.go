// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"errors"
	"iter"

	"moonwake.dev/lua/internal/lua54"
)

// A Waker wakes the task driving a coroutine, requesting another poll
// cycle. Wake is safe to call from any goroutine and coalesces: waking
// an already-woken task is a no-op.
type Waker struct {
	ch chan struct{}
}

func newWaker() *Waker {
	return &Waker{ch: make(chan struct{}, 1)}
}

// Wake requests another poll cycle for the task this waker belongs to.
func (w *Waker) Wake() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// wait blocks until the waker fires or ctx is done.
func (w *Waker) wait(ctx context.Context) error {
	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pollState is what one poll cycle installs in the waker mailbox: the
// driving task's waker and its context.
type pollState struct {
	waker *Waker
	ctx   context.Context
}

// installWaker fills the waker mailbox for one resume. It returns the
// retention ID that clearWaker needs. The caller must hold resumeMu.
func (r *Runtime) installWaker(ps *pollState) (uint64, error) {
	l := &r.state
	if !l.CheckStack(2) {
		return 0, ErrStackOverflow
	}
	id := l.PushUserdataValue(ps, 0)
	l.RawSetField(lua54.RegistryIndex, wakerKey)
	return id, nil
}

// clearWaker empties the mailbox. It runs unconditionally after every
// resume, on success and on failure, so at most one waker is ever
// visible to interpreter code.
func (r *Runtime) clearWaker(id uint64) {
	if r.isClosed() {
		return
	}
	l := &r.state
	if !l.CheckStack(1) {
		return
	}
	l.PushNil()
	l.RawSetField(lua54.RegistryIndex, wakerKey)
	l.FreeValue(id)
}

// taskState reads the mailbox, or nil outside a poll cycle.
func (r *Runtime) taskState() *pollState {
	if r.isClosed() {
		return nil
	}
	l := &r.state
	l.SyncTop()
	if !l.CheckStack(1) {
		return nil
	}
	if l.RawField(lua54.RegistryIndex, wakerKey) != lua54.TypeUserdata {
		l.Pop(1)
		return nil
	}
	v, ok := l.UserdataValue(-1)
	l.Pop(1)
	if !ok {
		return nil
	}
	ps, _ := v.(*pollState)
	return ps
}

// TaskWaker returns the waker of the task currently driving a resume,
// or nil outside a poll cycle. An asynchronous primitive that wants to
// suspend its coroutine retrieves the waker during the call, arranges
// for it to fire when its work completes, and yields the pending
// sentinel.
func (r *Runtime) TaskWaker() *Waker {
	if ps := r.taskState(); ps != nil {
		return ps.waker
	}
	return nil
}

// TaskContext returns the context of the task currently driving a
// resume, or nil outside a poll cycle.
func (r *Runtime) TaskContext() context.Context {
	if ps := r.taskState(); ps != nil {
		return ps.ctx
	}
	return nil
}

// PushPending pushes the pending sentinel onto l's stack. A coroutine
// that yields exactly this value tells the bridge "an asynchronous
// primitive suspended; do not treat this as a real yield". The
// sentinel is the address of an allocation private to the runtime, so
// interpreter code cannot fabricate it.
func (r *Runtime) PushPending(l *lua54.State) {
	if !l.CheckStack(1) {
		panic(ErrStackOverflow)
	}
	l.PushLightUserdata(l.Sentinel())
}

// IsPending reports whether the value at idx is the pending sentinel.
func (r *Runtime) IsPending(l *lua54.State, idx int) bool {
	return l.Type(idx) == lua54.TypeLightUserdata && l.ToPointer(idx) == l.Sentinel()
}

// pollCycle performs one waker-armed resume: install the task's waker
// in the mailbox, resume, uninstall unconditionally. resumeMu makes
// the cycle exclusive per runtime; separate goroutines driving their
// own coroutines interleave at resume granularity only.
func (t *Thread) pollCycle(ctx context.Context, w *Waker, args []Value) ([]Value, resumeOutcome, error) {
	r := t.r
	r.resumeMu.Lock()
	defer r.resumeMu.Unlock()
	if err := r.enter(); err != nil {
		return nil, 0, err
	}
	r.drainPending()
	id, err := r.installWaker(&pollState{waker: w, ctx: ctx})
	if err != nil {
		return nil, 0, err
	}
	defer r.clearWaker(id)
	return t.resume(args, true)
}

// An AsyncThread drives a coroutine to completion as a single
// asynchronous task. Yielded intermediate values are discarded; the
// future resolves with the coroutine's final return values. Use
// [Thread.Stream] instead to observe the yields.
type AsyncThread struct {
	t     *Thread
	args  []Value
	first bool
	waker *Waker
	done  bool
	vals  []Value
	err   error
}

// Async wraps t as a single-shot future. args are passed to the first
// resume (the coroutine body's arguments) and consumed exactly once;
// subsequent resumes continue past a yield with no arguments.
func (t *Thread) Async(args ...Value) *AsyncThread {
	return &AsyncThread{t: t, args: args, first: true, waker: newWaker()}
}

// Await drives the coroutine until it returns, fails, or ctx is done.
// Entering Await with the thread already terminal without a result is
// reported as [ErrThreadFinished]. A ctx error abandons the coroutine
// in its suspended state; it is never unwound.
func (a *AsyncThread) Await(ctx context.Context) ([]Value, error) {
	if a.done {
		return a.vals, a.err
	}
	for {
		var args []Value
		if a.first {
			args, a.args, a.first = a.args, nil, false
		}
		// The thread's resumability is checked inside the cycle, under
		// the resume lock: inspecting it here would touch the shared
		// main stack while another driver may be mid-resume.
		vals, outcome, err := a.t.pollCycle(ctx, a.waker, args)
		if err != nil {
			a.done = true
			if errors.Is(err, ErrCoroutineInactive) {
				err = ErrThreadFinished
			}
			a.err = err
			return nil, a.err
		}
		switch outcome {
		case outcomeReturn:
			a.done = true
			a.vals = vals
			return vals, nil
		case outcomeYield:
			// Discarded. The loop continues immediately: a real yield
			// re-arms the task rather than suspending it.
		case outcomePending:
			// Whichever primitive captured the waker is responsible
			// for firing it.
			if err := a.waker.wait(ctx); err != nil {
				return nil, err
			}
		}
	}
}

// A ThreadStream drives a coroutine as an in-order sequence of yielded
// value sets. Each yield is one item; the coroutine's final return
// values are discarded, so a coroutine that yields N times produces
// exactly N items and then terminates the stream cleanly.
type ThreadStream struct {
	t     *Thread
	args  []Value
	first bool
	waker *Waker
	done  bool
	vals  []Value
	err   error
}

// Stream wraps t as a sequence of yields. args are passed to the first
// resume and consumed exactly once.
func (t *Thread) Stream(args ...Value) *ThreadStream {
	return &ThreadStream{t: t, args: args, first: true, waker: newWaker()}
}

// Next advances the stream to the next yielded item, blocking across
// suspensions, and reports whether one was produced. When Next returns
// false, [ThreadStream.Err] distinguishes clean termination from
// failure. A ctx error abandons the coroutine in its suspended state.
func (s *ThreadStream) Next(ctx context.Context) bool {
	s.vals = nil
	if s.done {
		return false
	}
	var args []Value
	if s.first {
		args, s.args, s.first = s.args, nil, false
	}
	for {
		vals, outcome, err := s.t.pollCycle(ctx, s.waker, args)
		args = nil
		if err != nil {
			s.done = true
			s.err = err
			return false
		}
		switch outcome {
		case outcomeReturn:
			s.done = true
			return false
		case outcomeYield:
			s.vals = vals
			return true
		case outcomePending:
			if err := s.waker.wait(ctx); err != nil {
				s.err = err
				return false
			}
		}
	}
}

// Values returns the item produced by the last successful Next.
func (s *ThreadStream) Values() []Value {
	return s.vals
}

// Err returns the error that terminated the stream, or nil if the
// stream ended with the coroutine's return (or has not ended yet).
func (s *ThreadStream) Err() error {
	return s.err
}

// All returns an iterator over the stream's remaining items for use
// with a range statement. A terminal error is yielded as the final
// pair's error value.
func (s *ThreadStream) All(ctx context.Context) iter.Seq2[[]Value, error] {
	return func(yield func([]Value, error) bool) {
		for s.Next(ctx) {
			if !yield(s.vals, nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}

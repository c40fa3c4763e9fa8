// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"context"
	"sync"

	"moonwake.dev/lua/internal/lua54"
)

// AsyncFunc is a Go function exposed to the interpreter as an
// asynchronous primitive. It runs on its own goroutine; the coroutine
// that called it suspends until the function returns, with the driving
// task's waker re-armed on every poll. ctx is the context of the task
// driving the coroutine at the moment of the call.
//
// The function must be called from a coroutine driven by [AsyncThread]
// or [ThreadStream]. Under a plain [Thread.Resume] there is no task to
// wake, and the pending marker surfaces to the resumer as an opaque
// yielded value.
type AsyncFunc func(ctx context.Context, args []Value) ([]Value, error)

// completion is the cell an AsyncFunc goroutine reports into. poll
// arms the waker of whichever task is currently driving the coroutine;
// complete fires the most recently armed one.
type completion struct {
	mu    sync.Mutex
	done  bool
	vals  []Value
	err   error
	waker *Waker
}

func (c *completion) complete(vals []Value, err error) {
	c.mu.Lock()
	c.done = true
	c.vals = vals
	c.err = err
	w := c.waker
	c.waker = nil
	c.mu.Unlock()
	if w != nil {
		w.Wake()
	}
}

func (c *completion) poll(w *Waker) (vals []Value, done bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return c.vals, true, c.err
	}
	c.waker = w
	return nil, false, nil
}

// NewAsyncFunction registers fn as a callable interpreter value. Each
// call starts fn on a fresh goroutine and suspends the calling
// coroutine through the runtime's poll shim; the yield happens in pure
// interpreter code, so it never crosses a C or Go stack frame. An
// error from fn is raised at the call site inside the coroutine.
func (r *Runtime) NewAsyncFunction(fn AsyncFunc) (*Ref, error) {
	var out *Ref
	err := r.Protected(3, 0, func(l *lua54.State) error {
		msgh := r.pushHandler(l)
		l.RawField(lua54.RegistryIndex, asyncKey)
		l.PushClosure(0, r.asyncStart(fn))
		if err := l.Call(1, 1, msgh); err != nil {
			return err
		}
		out = r.refAt(l, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// asyncStart adapts fn to the poll shim's start protocol: launch the
// goroutine, hand back a poll closure for the shim's yield loop.
func (r *Runtime) asyncStart(fn AsyncFunc) lua54.Function {
	return func(l *lua54.State) (int, error) {
		args, err := r.values(l, 1, l.Top())
		if err != nil {
			return 0, err
		}
		ctx := context.Background()
		if ps := r.taskState(); ps != nil && ps.ctx != nil {
			ctx = ps.ctx
		}
		c := new(completion)
		go func() {
			vals, err := fn(ctx, args)
			c.complete(vals, err)
		}()
		if !l.CheckStack(1) {
			return 0, ErrStackOverflow
		}
		l.PushClosure(0, r.asyncPoll(c))
		return 1, nil
	}
}

// asyncPoll adapts a completion cell to the shim's poll protocol:
// false while pending, (true, results...) once done.
func (r *Runtime) asyncPoll(c *completion) lua54.Function {
	return func(l *lua54.State) (int, error) {
		vals, done, err := c.poll(r.TaskWaker())
		if err != nil {
			return 0, err
		}
		if !done {
			if !l.CheckStack(1) {
				return 0, ErrStackOverflow
			}
			l.PushBoolean(false)
			return 1, nil
		}
		if !l.CheckStack(len(vals) + 3) {
			return 0, ErrStackOverflow
		}
		l.PushBoolean(true)
		for _, v := range vals {
			if err := r.push(l, v); err != nil {
				return 0, err
			}
		}
		return 1 + len(vals), nil
	}
}

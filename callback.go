// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"moonwake.dev/lua/internal/lua54"
)

// Func is a Go function callable from the interpreter. Arguments
// arrive converted per [Value]; returned values are pushed back as the
// call's results. Returning an error raises it as an interpreter
// error: the error value round-trips, so a Go caller on the other side
// of a protected boundary gets the original error back.
//
// A Func must not drive the resume path of its own runtime (the
// interpreter cannot run two call stacks at once); asynchronous work
// belongs in an [AsyncFunc].
type Func func(r *Runtime, args []Value) ([]Value, error)

// NewFunction registers fn as an interpreter function value. The
// function stays callable until the interpreter collects it.
func (r *Runtime) NewFunction(fn Func) (*Ref, error) {
	return r.newCallback(fn, nil)
}

// NewExclusiveFunction registers fn while rejecting re-entry: if
// interpreter code calls the function again while an invocation is
// still on the call stack, the inner call fails with
// [ErrRecursiveCallback] instead of re-entering fn. This makes it safe
// for fn to mutate captured state without reentrancy hazards.
func (r *Runtime) NewExclusiveFunction(fn Func) (*Ref, error) {
	return r.newCallback(exclusive(fn), nil)
}

func exclusive(fn Func) Func {
	inFlight := false
	return func(r *Runtime, args []Value) ([]Value, error) {
		if inFlight {
			return nil, ErrRecursiveCallback
		}
		inFlight = true
		defer func() { inFlight = false }()
		return fn(r, args)
	}
}

// newCallback registers fn and returns a reference to the resulting
// function value. When reg is not nil it receives the closure's
// registration ID, which a [Scope] records for later invalidation.
func (r *Runtime) newCallback(fn Func, reg func(id uint64)) (*Ref, error) {
	var out *Ref
	err := r.Protected(1, 0, func(l *lua54.State) error {
		id := l.PushClosure(0, r.liftFunc(fn))
		if reg != nil {
			reg(id)
		}
		out = r.refAt(l, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// liftFunc adapts fn to the raw callback calling convention:
// arguments are converted off the stack, results are pushed back.
func (r *Runtime) liftFunc(fn Func) lua54.Function {
	return func(l *lua54.State) (int, error) {
		args, err := r.values(l, 1, l.Top())
		if err != nil {
			return 0, err
		}
		results, err := fn(r, args)
		if err != nil {
			return 0, err
		}
		if !l.CheckStack(len(results) + 2) {
			return 0, ErrStackOverflow
		}
		for _, res := range results {
			if err := r.push(l, res); err != nil {
				return 0, err
			}
		}
		return len(results), nil
	}
}

// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"moonwake.dev/lua/internal/lua54"
)

// A Scope registers interpreter-visible objects whose captured Go
// state must not outlive a bounded region. Objects registered through
// a scope are live immediately; when the scope exits they are
// invalidated in two phases: first every registered object is made
// inert, then the registered destructors run. A destructor panic can
// therefore never leave a live interpreter-visible handle pointing at
// reclaimed Go state.
type Scope struct {
	r      *Runtime
	closed bool

	// Both lists run in reverse registration order on exit.
	detach   []func()
	cleanups []func()
}

// WithScope runs body with a fresh scope and returns only after every
// object registered through the scope has been invalidated, however
// body exits. The first destructor panic, if any, is re-raised after
// the teardown completes; body's own error is returned when no panic
// intervenes.
func (r *Runtime) WithScope(body func(s *Scope) error) error {
	if err := r.enter(); err != nil {
		return err
	}
	s := &Scope{r: r}
	defer s.exit()
	return body(s)
}

// Function registers fn for the lifetime of the scope. The returned
// function value stays valid interpreter-side after the scope exits,
// but calling it fails with [ErrCallbackDestructed]; the Go closure
// and anything it captured are unreachable from the interpreter from
// that point on.
func (s *Scope) Function(fn Func) (*Ref, error) {
	return s.function(fn)
}

// ExclusiveFunction is like [Scope.Function] but additionally rejects
// re-entry with [ErrRecursiveCallback], so fn may mutate captured
// state without reentrancy hazards.
func (s *Scope) ExclusiveFunction(fn Func) (*Ref, error) {
	return s.function(exclusive(fn))
}

func (s *Scope) function(fn Func) (*Ref, error) {
	if s.closed {
		panic("lua: use of exited scope")
	}
	r := s.r
	var id uint64
	ref, err := r.newCallback(fn, func(cid uint64) { id = cid })
	if err != nil {
		return nil, err
	}
	s.detach = append(s.detach, func() { r.invalidateCallback(id) })
	return ref, nil
}

// Userdata registers a userdata carrying v for the lifetime of the
// scope. On exit the Go value is detached: the interpreter-side
// object survives, but [Runtime.UserdataValue] reports
// [ErrUserdataDestructed] and v becomes free for reuse.
func (s *Scope) Userdata(v any) (*Ref, error) {
	if s.closed {
		panic("lua: use of exited scope")
	}
	r := s.r
	var out *Ref
	var id uint64
	err := r.Protected(1, 0, func(l *lua54.State) error {
		id = l.PushUserdataValue(v, 1)
		out = r.refAt(l, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.detach = append(s.detach, func() {
		if !r.isClosed() {
			r.state.FreeValue(id)
		}
	})
	return out, nil
}

// Defer registers cleanup to run in the scope's second teardown phase,
// after every scoped object has been made inert.
func (s *Scope) Defer(cleanup func()) {
	if s.closed {
		panic("lua: use of exited scope")
	}
	s.cleanups = append(s.cleanups, cleanup)
}

func (s *Scope) exit() {
	s.closed = true

	// Phase one: every registered object becomes inert before any
	// destructor runs. These actions are pure Go-side bookkeeping and
	// cannot fail.
	for i := len(s.detach) - 1; i >= 0; i-- {
		s.detach[i]()
	}

	// Phase two: destructors. A panic does not stop the remaining
	// ones; the first panic value is re-raised once all have run.
	var panicValue any
	panicked := false
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		func() {
			defer func() {
				if v := recover(); v != nil && !panicked {
					panicked = true
					panicValue = v
				}
			}()
			s.cleanups[i]()
		}()
	}
	if panicked {
		panic(panicValue)
	}
}

// invalidateCallback swaps the Go function behind a registered closure
// for a stub that only reports destruction. This touches Go-side
// bookkeeping only; the interpreter is not entered and the operation
// cannot fail.
func (r *Runtime) invalidateCallback(id uint64) {
	if r.isClosed() {
		return
	}
	r.state.ReplaceClosure(id, func(*lua54.State) (int, error) {
		return 0, ErrCallbackDestructed
	})
}

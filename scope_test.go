// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"errors"
	"fmt"
	"testing"
)

func TestScopeInvalidatesCallbacks(t *testing.T) {
	r := newTestRuntime(t)

	const numCallbacks = 3
	calls := 0
	err := r.WithScope(func(s *Scope) error {
		for i := 0; i < numCallbacks; i++ {
			fn, err := s.Function(func(rt *Runtime, args []Value) ([]Value, error) {
				calls++
				return nil, nil
			})
			if err != nil {
				return err
			}
			if err := r.SetGlobal(fmt.Sprintf("scoped%d", i), fn); err != nil {
				return err
			}
		}
		// Live inside the scope.
		if _, err := r.DoString(`scoped0(); scoped1(); scoped2()`, "=inside"); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := calls, numCallbacks; got != want {
		t.Errorf("calls inside scope = %d; want %d", got, want)
	}

	// After the scope exits, every scoped function fails cleanly.
	for i := 0; i < numCallbacks; i++ {
		_, err := r.DoString(fmt.Sprintf(`scoped%d()`, i), "=outside")
		if !errors.Is(err, ErrCallbackDestructed) {
			t.Errorf("scoped%d after exit = %v; want %v", i, err, ErrCallbackDestructed)
		}
	}
	if got, want := calls, numCallbacks; got != want {
		t.Errorf("calls after scope = %d; want %d (invalidated callbacks must not run)", got, want)
	}
}

func TestScopeUserdata(t *testing.T) {
	r := newTestRuntime(t)

	type payload struct{ n int }
	captured := &payload{n: 42}
	var escaped *Ref
	err := r.WithScope(func(s *Scope) error {
		ud, err := s.Userdata(captured)
		if err != nil {
			return err
		}
		got, err := r.UserdataValue(ud)
		if err != nil {
			return err
		}
		if got != captured {
			return fmt.Errorf("userdata value = %v; want %v", got, captured)
		}
		escaped = ud.Clone()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer escaped.Release()

	// The interpreter-side object survives, detached from the Go value.
	if _, err := r.UserdataValue(escaped); !errors.Is(err, ErrUserdataDestructed) {
		t.Errorf("UserdataValue after scope exit = %v; want %v", err, ErrUserdataDestructed)
	}
}

func TestScopeCleanupPanic(t *testing.T) {
	r := newTestRuntime(t)

	ranSecond := false
	var panicked any
	func() {
		defer func() { panicked = recover() }()
		r.WithScope(func(s *Scope) error {
			fn, err := s.Function(func(rt *Runtime, args []Value) ([]Value, error) {
				return nil, nil
			})
			if err != nil {
				return err
			}
			if err := r.SetGlobal("doomed", fn); err != nil {
				return err
			}
			// Cleanups run in reverse registration order, so the
			// panicking one runs last.
			s.Defer(func() { ranSecond = true })
			s.Defer(func() { panic("destructor exploded") })
			return nil
		})
	}()

	if got, want := panicked, any("destructor exploded"); got != want {
		t.Errorf("recovered = %v; want %v", got, want)
	}
	if !ranSecond {
		t.Error("a panic in one cleanup stopped the remaining ones")
	}
	// Phase-1 invalidation completed despite the phase-2 panic.
	if _, err := r.DoString(`doomed()`, "=after"); !errors.Is(err, ErrCallbackDestructed) {
		t.Errorf("scoped function after panicking exit = %v; want %v", err, ErrCallbackDestructed)
	}
}

func TestScopeBodyError(t *testing.T) {
	r := newTestRuntime(t)
	errBody := errors.New("body failed")
	err := r.WithScope(func(s *Scope) error {
		fn, err := s.Function(func(rt *Runtime, args []Value) ([]Value, error) {
			return nil, nil
		})
		if err != nil {
			return err
		}
		if err := r.SetGlobal("halfway", fn); err != nil {
			return err
		}
		return errBody
	})
	if !errors.Is(err, errBody) {
		t.Fatalf("WithScope = %v; want %v", err, errBody)
	}
	// Invalidation still ran.
	if _, err := r.DoString(`halfway()`, "=after"); !errors.Is(err, ErrCallbackDestructed) {
		t.Errorf("scoped function after body error = %v; want %v", err, ErrCallbackDestructed)
	}
}

func TestScopeExclusiveFunction(t *testing.T) {
	r := newTestRuntime(t)
	err := r.WithScope(func(s *Scope) error {
		state := 0
		fn, err := s.ExclusiveFunction(func(rt *Runtime, args []Value) ([]Value, error) {
			state++
			if state == 1 {
				v, err := rt.Global("mutual")
				if err != nil {
					return nil, err
				}
				return rt.Call(v)
			}
			return []Value{int64(state)}, nil
		})
		if err != nil {
			return err
		}
		if err := r.SetGlobal("mutual", fn); err != nil {
			return err
		}
		if _, err := r.Call(fn); !errors.Is(err, ErrRecursiveCallback) {
			t.Errorf("re-entrant scoped call = %v; want %v", err, ErrRecursiveCallback)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"errors"
	"testing"

	"moonwake.dev/lua/internal/lua54"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := r.Close(); err != nil {
			t.Error("close runtime:", err)
		}
	})
	if err := r.OpenLibraries(LibBase, LibTable, LibString, LibMath); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestProtectedStackBalance(t *testing.T) {
	r := newTestRuntime(t)

	errEarly := errors.New("early out")
	tests := []struct {
		name string
		run  func() error
	}{
		{
			name: "Success",
			run: func() error {
				_, err := r.DoString(`return 1 + 1`, "=ok")
				return err
			},
		},
		{
			name: "InterpreterError",
			run: func() error {
				_, err := r.DoString(`error("boom")`, "=boom")
				return err
			},
		},
		{
			name: "EarlyGoError",
			run: func() error {
				return r.Protected(2, 0, func(l *lua54.State) error {
					l.PushInteger(1)
					return errEarly
				})
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			before := r.state.Top()
			err := test.run()
			if test.name == "Success" && err != nil {
				t.Error("unexpected error:", err)
			}
			if test.name != "Success" && err == nil {
				t.Error("expected an error")
			}
			if got, want := r.state.Top(), before; got != want {
				t.Errorf("stack depth after %s = %d; want %d", test.name, got, want)
			}
		})
	}
}

func TestRuntimeErrorTraceback(t *testing.T) {
	r := newTestRuntime(t)
	_, err := r.DoString(`
		local function inner()
			error("kablam")
		end
		local function outer()
			inner()
		end
		outer()
	`, "=traceback")
	if err == nil {
		t.Fatal("expected an error")
	}
	re := new(RuntimeError)
	if !errors.As(err, &re) {
		t.Fatalf("error type = %T; want *RuntimeError", err)
	}
	if re.Traceback == "" {
		t.Error("missing traceback")
	}
}

func TestGoErrorRoundTrip(t *testing.T) {
	r := newTestRuntime(t)
	errMine := errors.New("original failure")
	fn, err := r.NewFunction(func(r *Runtime, args []Value) ([]Value, error) {
		return nil, errMine
	})
	if err != nil {
		t.Fatal(err)
	}
	defer fn.Release()
	if _, err := r.Call(fn); !errors.Is(err, errMine) {
		t.Errorf("Call error = %v; want %v (via errors.Is)", err, errMine)
	}
}

func TestCallbackPanicPoisons(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	fn, err := r.NewFunction(func(r *Runtime, args []Value) ([]Value, error) {
		panic("callback exploded")
	})
	if err != nil {
		t.Fatal(err)
	}

	func() {
		defer func() {
			if got, want := recover(), any("callback exploded"); got != want {
				t.Errorf("first panic = %v; want %v", got, want)
			}
		}()
		r.Call(fn)
		t.Error("Call returned instead of panicking")
	}()

	// The runtime is poisoned: every later entry re-panics.
	func() {
		defer func() {
			if got, want := recover(), any("callback exploded"); got != want {
				t.Errorf("second panic = %v; want %v", got, want)
			}
		}()
		r.DoString(`return 1`, "=poisoned")
		t.Error("entry on a poisoned runtime did not panic")
	}()
}

func TestCallManyTableResults(t *testing.T) {
	r := newTestRuntime(t)
	// Every returned table is pinned during result conversion, past
	// the headroom declared for the call itself.
	vals, err := r.DoString(`
		local vals = {}
		for i = 1, 30 do
			vals[i] = { n = i }
		end
		return table.unpack(vals)
	`, "=wide")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(vals), 30; got != want {
		t.Fatalf("DoString returned %d values; want %d", got, want)
	}
	for i, v := range vals {
		ref, ok := v.(*Ref)
		if !ok {
			t.Fatalf("value %d is %T; want *Ref", i, v)
		}
		n, err := r.Field(ref, "n")
		if err != nil {
			t.Fatal(err)
		}
		if got, want := n, Value(int64(i+1)); got != want {
			t.Errorf("value %d field n = %v; want %v", i, got, want)
		}
		ref.Release()
	}
}

func TestClosedRuntime(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Error("second Close:", err)
	}
	if _, err := r.DoString(`return 1`, "=closed"); !errors.Is(err, ErrClosed) {
		t.Errorf("DoString on closed runtime = %v; want %v", err, ErrClosed)
	}
}

func TestRecursiveCallback(t *testing.T) {
	r := newTestRuntime(t)
	calls := 0
	fn, err := r.NewExclusiveFunction(func(rt *Runtime, args []Value) ([]Value, error) {
		calls++
		if calls > 1 {
			return []Value{"inner"}, nil
		}
		v, err := rt.Global("reenter")
		if err != nil {
			return nil, err
		}
		return rt.Call(v)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer fn.Release()
	if err := r.SetGlobal("reenter", fn); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Call(fn); !errors.Is(err, ErrRecursiveCallback) {
		t.Errorf("re-entrant call error = %v; want %v", err, ErrRecursiveCallback)
	}
}

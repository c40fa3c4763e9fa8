// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"fmt"
	"io"

	"moonwake.dev/lua/internal/lua54"
)

// Call calls fn with the given arguments and returns its results. The
// call is protected: an interpreter-level error comes back as a
// *[RuntimeError] carrying a traceback, and the interpreter stack is
// left at its entry depth either way.
func (r *Runtime) Call(fn Value, args ...Value) ([]Value, error) {
	var out []Value
	err := r.Protected(len(args)+2, 0, func(l *lua54.State) error {
		msgh := r.pushHandler(l)
		if err := r.push(l, fn); err != nil {
			return err
		}
		if !l.IsFunction(-1) {
			return fmt.Errorf("lua: call: not a function (got %v)", l.Type(-1))
		}
		for _, a := range args {
			if err := r.push(l, a); err != nil {
				return err
			}
		}
		if err := l.Call(len(args), lua54.MultipleReturns, msgh); err != nil {
			return err
		}
		var err error
		out, err = r.values(l, msgh+1, l.Top())
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Load reads a chunk from src and returns a reference to the compiled
// function. Only text chunks are accepted.
func (r *Runtime) Load(src io.Reader, chunkName string) (*Ref, error) {
	var out *Ref
	err := r.Protected(1, 0, func(l *lua54.State) error {
		if err := l.Load(src, chunkName, "t"); err != nil {
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

// LoadString compiles src and returns a reference to the compiled
// function.
func (r *Runtime) LoadString(src, chunkName string) (*Ref, error) {
	var out *Ref
	err := r.Protected(1, 0, func(l *lua54.State) error {
		if err := l.LoadString(src, chunkName, "t"); err != nil {
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

// DoString compiles and runs src, returning the chunk's results.
func (r *Runtime) DoString(src, chunkName string) ([]Value, error) {
	fn, err := r.LoadString(src, chunkName)
	if err != nil {
		return nil, err
	}
	defer fn.Release()
	return r.Call(fn)
}

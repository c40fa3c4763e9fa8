// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"fmt"

	"moonwake.dev/lua/internal/lua54"
)

// A Value is the Go representation of an interpreter value. It is one
// of nil, bool, int64, float64, string, or *[Ref]. Tables, functions,
// threads, and userdata surface as *Ref. When pushing, int, float32,
// and []byte are accepted as well.
type Value any

// push pushes v onto l's stack. The caller is responsible for stack
// headroom (one permanent slot plus two transient slots for refs).
func (r *Runtime) push(l *lua54.State, v Value) error {
	switch v := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(v)
	case int:
		l.PushInteger(int64(v))
	case int64:
		l.PushInteger(v)
	case float32:
		l.PushNumber(float64(v))
	case float64:
		l.PushNumber(v)
	case string:
		l.PushString(v)
	case []byte:
		l.PushString(string(v))
	case *Ref:
		if v.rt != r {
			return ErrMismatchedRuntime
		}
		if v.released {
			return fmt.Errorf("lua: ref used after release")
		}
		l.RawField(lua54.RegistryIndex, refsKey)
		l.RawIndex(-1, int64(v.slot))
		l.Remove(-2)
	default:
		return fmt.Errorf("lua: cannot use %T as a value", v)
	}
	return nil
}

// valueAt converts the stack value at idx into a Go value. Values
// without a scalar representation are pinned into the reference table
// and returned as a *Ref.
func (r *Runtime) valueAt(l *lua54.State, idx int) Value {
	switch l.Type(idx) {
	case lua54.TypeNone, lua54.TypeNil:
		return nil
	case lua54.TypeBoolean:
		return l.ToBoolean(idx)
	case lua54.TypeNumber:
		if l.IsInteger(idx) {
			n, _ := l.ToInteger(idx)
			return n
		}
		n, _ := l.ToNumber(idx)
		return n
	case lua54.TypeString:
		s, _ := l.ToString(idx)
		return s
	default:
		return r.refAt(l, idx)
	}
}

// values converts the stack slots from through to (inclusive) into Go
// values. The conversion may pin values into the reference table, so
// transient headroom is reserved up front; a stack that cannot grow by
// two slots fails with [ErrStackOverflow] instead of panicking, even
// when the preceding call consumed the declared headroom for its
// results.
func (r *Runtime) values(l *lua54.State, from, to int) ([]Value, error) {
	if to < from {
		return nil, nil
	}
	if !l.CheckStack(2) {
		return nil, ErrStackOverflow
	}
	vals := make([]Value, 0, to-from+1)
	for idx := from; idx <= to; idx++ {
		vals = append(vals, r.valueAt(l, idx))
	}
	return vals, nil
}

// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"fmt"

	"moonwake.dev/lua/internal/lua54"
)

// NewTable creates an empty table and returns a reference to it.
func (r *Runtime) NewTable() (*Ref, error) {
	var out *Ref
	err := r.Protected(1, 0, func(l *lua54.State) error {
		l.CreateTable(0, 0)
		out = r.refAt(l, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Field returns tbl[name]. Metamethods run; an error raised by one
// comes back as a *[RuntimeError].
func (r *Runtime) Field(tbl Value, name string) (Value, error) {
	var out Value
	err := r.Protected(3, 0, func(l *lua54.State) error {
		msgh := r.pushHandler(l)
		if err := r.push(l, tbl); err != nil {
			return err
		}
		if _, err := l.Field(-1, name, msgh); err != nil {
			return err
		}
		out = r.valueAt(l, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetField sets tbl[name] = v. Metamethods run.
func (r *Runtime) SetField(tbl Value, name string, v Value) error {
	return r.Protected(4, 0, func(l *lua54.State) error {
		msgh := r.pushHandler(l)
		if err := r.push(l, tbl); err != nil {
			return err
		}
		if err := r.push(l, v); err != nil {
			return err
		}
		return l.SetField(-2, name, msgh)
	})
}

// Index returns tbl[i]. Metamethods run.
func (r *Runtime) Index(tbl Value, i int64) (Value, error) {
	var out Value
	err := r.Protected(4, 0, func(l *lua54.State) error {
		msgh := r.pushHandler(l)
		if err := r.push(l, tbl); err != nil {
			return err
		}
		l.PushInteger(i)
		if _, err := l.Table(-2, msgh); err != nil {
			return err
		}
		out = r.valueAt(l, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetIndex sets tbl[i] = v. Metamethods run.
func (r *Runtime) SetIndex(tbl Value, i int64, v Value) error {
	return r.Protected(5, 0, func(l *lua54.State) error {
		msgh := r.pushHandler(l)
		if err := r.push(l, tbl); err != nil {
			return err
		}
		l.PushInteger(i)
		if err := r.push(l, v); err != nil {
			return err
		}
		return l.SetTable(-3, msgh)
	})
}

// Length returns the length of v as by the length operator, honoring
// the __len metamethod.
func (r *Runtime) Length(v Value) (int64, error) {
	var out int64
	err := r.Protected(4, 0, func(l *lua54.State) error {
		msgh := r.pushHandler(l)
		if err := r.push(l, v); err != nil {
			return err
		}
		if err := l.Len(-1, msgh); err != nil {
			return err
		}
		n, ok := l.ToInteger(-1)
		if !ok {
			return fmt.Errorf("lua: length: not an integer")
		}
		out = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// Pairs iterates over the entries of tbl in raw order, calling fn for
// each key/value pair. Iteration stops at the first error from fn and
// returns it. Metamethods are not consulted.
func (r *Runtime) Pairs(tbl Value, fn func(k, v Value) error) error {
	return r.Protected(3, 2, func(l *lua54.State) error {
		if err := r.push(l, tbl); err != nil {
			return err
		}
		if !l.IsTable(-1) {
			return fmt.Errorf("lua: pairs: not a table (got %v)", l.Type(-1))
		}
		tblIdx := l.Top()
		l.PushNil()
		for l.Next(tblIdx) {
			k := r.valueAt(l, -2)
			v := r.valueAt(l, -1)
			if err := fn(k, v); err != nil {
				return err
			}
			l.Pop(1)
		}
		return nil
	})
}

// Global returns the value of the named global.
func (r *Runtime) Global(name string) (Value, error) {
	var out Value
	err := r.Protected(2, 0, func(l *lua54.State) error {
		msgh := r.pushHandler(l)
		if _, err := l.Global(name, msgh); err != nil {
			return err
		}
		out = r.valueAt(l, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetGlobal sets the named global to v.
func (r *Runtime) SetGlobal(name string, v Value) error {
	return r.Protected(3, 0, func(l *lua54.State) error {
		msgh := r.pushHandler(l)
		if err := r.push(l, v); err != nil {
			return err
		}
		return l.SetGlobal(name, msgh)
	})
}

// NewUserdata creates a userdata carrying v and returns a reference to
// it. The Go value stays attached until the userdata is collected; use
// [Runtime.UserdataValue] to read it back.
func (r *Runtime) NewUserdata(v any) (*Ref, error) {
	var out *Ref
	err := r.Protected(1, 0, func(l *lua54.State) error {
		l.PushUserdataValue(v, 1)
		out = r.refAt(l, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UserdataValue returns the Go value carried by a userdata created
// with [Runtime.NewUserdata] or [Scope.Userdata]. A scoped userdata
// whose scope has exited reports [ErrUserdataDestructed].
func (r *Runtime) UserdataValue(ud Value) (any, error) {
	var out any
	err := r.Protected(1, 0, func(l *lua54.State) error {
		if err := r.push(l, ud); err != nil {
			return err
		}
		if !l.IsGoValue(-1) {
			return fmt.Errorf("lua: not a bridge userdata (got %v)", l.Type(-1))
		}
		v, ok := l.UserdataValue(-1)
		if !ok {
			return ErrUserdataDestructed
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetMetatable sets mt (a table reference, or nil to clear) as the
// metatable of obj. When obj is a bridge userdata, the metatable's
// __gc is wired to keep the attached Go value's release behavior.
func (r *Runtime) SetMetatable(obj, mt Value) error {
	return r.Protected(4, 0, func(l *lua54.State) error {
		if err := r.push(l, obj); err != nil {
			return err
		}
		if err := r.push(l, mt); err != nil {
			return err
		}
		if !l.IsTable(-1) && !l.IsNil(-1) {
			return fmt.Errorf("lua: metatable must be a table or nil (got %v)", l.Type(-1))
		}
		if l.IsTable(-1) && l.IsGoValue(-2) {
			if l.RawField(-1, "__gc") == lua54.TypeNil {
				l.Pop(1)
				l.PushValueGC()
				l.RawSetField(-2, "__gc")
			} else {
				l.Pop(1)
			}
		}
		l.SetMetatable(-2)
		return nil
	})
}

// Metatable returns obj's metatable, or nil if it has none.
func (r *Runtime) Metatable(obj Value) (Value, error) {
	var out Value
	err := r.Protected(2, 0, func(l *lua54.State) error {
		if err := r.push(l, obj); err != nil {
			return err
		}
		if !l.Metatable(-1) {
			return nil
		}
		out = r.valueAt(l, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

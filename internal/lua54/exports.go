// Copyright 2023 Ross Light
// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua54

import (
	"errors"
	"io"
	"runtime/cgo"
	"unsafe"
)

// This file contains the Go code exported to C.
// It's kept in a separate file with a minimal C preamble
// to avoid unintentional redefinitions.
// See the caveat in https://pkg.go.dev/cmd/cgo for more details.

// #include <stdlib.h>
// #include <stddef.h>
// #include <lua.h>
//
// void moonwake_lua_pushstring(lua_State *L, _GoString_ s);
import "C"

//export moonwake_lua_readercb
func moonwake_lua_readercb(l *C.lua_State, data unsafe.Pointer, size *C.size_t) *C.char {
	r := (*cgo.Handle)(data).Value().(*reader)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(r.buf)), readerBufferSize)
	n, err := r.r.Read(buf)
	*size = C.size_t(n)
	if n == 0 && err != nil && err != io.EOF {
		// We have a trampoline that intercepts a NULL return.
		// Push the error onto the stack.
		C.moonwake_lua_pushstring(l, err.Error())
		return nil
	}
	return r.buf
}

//export moonwake_lua_gocb
func moonwake_lua_gocb(l *C.lua_State) C.int {
	state := stateForCallback(l)
	defer func() {
		// Once the callback has finished, clear the State.
		// This prevents incorrect usage across calls.
		*state = State{}
	}()
	funcID := copyUint64(state, goClosureUpvalueIndex)
	f := state.data().closures[funcID]
	if f == nil {
		C.moonwake_lua_pushstring(l, "Go closure upvalue corrupted")
		return -1
	}

	results, err := pcall(f, state)
	if err != nil {
		var pe *panicError
		if errors.As(err, &pe) {
			// A Go panic must not unwind through the interpreter.
			// Park the panic value and raise an ordinary interpreter
			// error in its place; the boundary that entered the
			// interpreter re-raises the panic once the stack is
			// restored, even if a script-level pcall caught this
			// error.
			data := state.data()
			data.pendingPanic = pe.value
			data.hasPanic = true
			C.moonwake_lua_pushstring(l, pe.Error())
			return -1
		}
		if state.CheckStack(3) {
			state.PushError(err)
		} else {
			C.moonwake_lua_pushstring(l, err.Error())
		}
		return -1
	}
	if results < 0 {
		C.moonwake_lua_pushstring(l, "Go callback returned negative results")
		return -1
	}
	return C.int(results)
}

//export moonwake_lua_gcfunc
func moonwake_lua_gcfunc(l *C.lua_State) C.int {
	state := stateForCallback(l)
	funcID := copyUint64(state, 1)
	if funcID != 0 {
		delete(state.data().closures, funcID)
		setUint64(state, 1, 0)
	}
	return 0
}

//export moonwake_lua_gcvalue
func moonwake_lua_gcvalue(l *C.lua_State) C.int {
	state := stateForCallback(l)
	id := copyUint64(state, 1)
	if id != 0 {
		delete(state.data().values, id)
		setUint64(state, 1, 0)
	}
	return 0
}

//export moonwake_lua_errstr
func moonwake_lua_errstr(l *C.lua_State) C.int {
	state := stateForCallback(l)
	id := copyUint64(state, 1)
	if e, ok := state.data().values[id].(error); ok {
		C.moonwake_lua_pushstring(l, e.Error())
	} else {
		C.moonwake_lua_pushstring(l, "error (released)")
	}
	return 1
}

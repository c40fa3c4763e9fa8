// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua54

// #include <lua.h>
import "C"

// NewThread creates a new coroutine thread, pushes it on the stack, and
// returns a State for it. The new thread shares the global environment
// with l but has an independent execution stack. It is collectible like
// any other interpreter value; anchor it (for example in the registry) to
// keep it alive.
func (l *State) NewThread() *State {
	l.init()
	if l.top >= l.cap {
		panic("stack overflow")
	}
	ptr := C.lua_newthread(l.ptr)
	l.top++
	return &State{
		ptr: ptr,
		top: 0,
		cap: MinStack,
	}
}

// ToThread returns a State for the thread at the given index, or nil if
// the value there is not a thread.
func (l *State) ToThread(idx int) *State {
	if l.ptr == nil {
		return nil
	}
	if !l.isAcceptableIndex(idx) {
		panic("unacceptable index")
	}
	ptr := C.lua_tothread(l.ptr, C.int(idx))
	if ptr == nil {
		return nil
	}
	t := &State{
		ptr: ptr,
		top: int(C.lua_gettop(ptr)),
	}
	t.cap = t.top + MinStack
	return t
}

// PushThread pushes the thread represented by l onto its own stack and
// reports whether it is the main thread of its interpreter.
func (l *State) PushThread() bool {
	l.init()
	if l.top >= l.cap {
		panic("stack overflow")
	}
	isMain := C.lua_pushthread(l.ptr) != 0
	l.top++
	return isMain
}

// Status returns the status of the thread: [Ok] for a normal thread,
// [Yield] for a suspended one, or an error code if the thread stopped
// with an error.
func (l *State) Status() int {
	if l.ptr == nil {
		return Ok
	}
	return int(C.lua_status(l.ptr))
}

// Resume starts or continues the coroutine l, consuming nArgs arguments
// from the top of l's stack. On the first resume the function to run must
// sit below the arguments. from is the thread performing the resume, or
// nil.
//
// If the coroutine suspends, Resume returns the number of values it
// passed to yield with yielded true. If it finishes, Resume returns the
// number of values it returned with yielded false. In both cases the
// values are on top of l's stack. If the coroutine stops with an error,
// Resume returns that error and leaves the error value on top of l's
// stack with the rest of the stack intact, so callers can collect a
// traceback before discarding it.
func (l *State) Resume(from *State, nArgs int) (nResults int, yielded bool, err error) {
	if nArgs < 0 {
		panic("negative arguments")
	}
	l.init()
	l.checkElems(nArgs)
	var fromPtr *C.lua_State
	if from != nil {
		fromPtr = from.ptr
	}
	var nres C.int
	ret := C.lua_resume(l.ptr, fromPtr, C.int(nArgs), &nres)
	l.top = int(C.lua_gettop(l.ptr))
	l.cap = max(l.cap, l.top)
	switch ret {
	case C.LUA_OK:
		return int(nres), false, nil
	case C.LUA_YIELD:
		return int(nres), true, nil
	default:
		return 0, false, l.newError(ret)
	}
}

// XMove moves the top n values from one thread's stack to another.
// Both threads must belong to the same interpreter.
func XMove(from, to *State, n int) {
	if n < 0 {
		panic("negative count")
	}
	if from.ptr == nil || to.ptr == nil {
		panic("xmove on uninitialized state")
	}
	from.checkElems(n)
	if from.ptr == to.ptr {
		return
	}
	if !to.CheckStack(n) {
		panic("stack overflow")
	}
	C.lua_xmove(from.ptr, to.ptr, C.int(n))
	from.top -= n
	to.top += n
}

// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"fmt"
	"sync"

	"moonwake.dev/lua/internal/lua54"
)

// Keys in the interpreter registry used by the bridge.
const (
	// refsKey holds the auxiliary table that keeps referenced values
	// alive. Slots in it are managed by the Go-side reference counts.
	refsKey = "moonwake.dev/lua.refs"
	// handlerKey holds the error trap installed around protected
	// entries.
	handlerKey = "moonwake.dev/lua.handler"
	// wakerKey is the waker mailbox: during a poll cycle it holds the
	// driving task's waker and context.
	wakerKey = "moonwake.dev/lua.waker"
	// asyncKey holds the compiled shim that suspends a coroutine while
	// an asynchronous callback runs.
	asyncKey = "moonwake.dev/lua.async"
)

// LuaVersion identifies the embedded interpreter release.
const LuaVersion = lua54.Version

// protectedSlots is the stack headroom the bridge itself may consume
// during a protected entry, beyond what the operation declares: the
// error trap, reference table fetches, and the captured error value.
const protectedSlots = 4

// A Runtime owns one interpreter instance. The interpreter is
// single-threaded and non-reentrant; a Runtime is therefore confined
// to one owning goroutine context, with two exceptions: resume cycles,
// which [Thread.Async] and [Thread.Stream] serialize internally so
// separate goroutines can each drive their own coroutine, and
// [RegistryKey], whose release is safe anywhere.
type Runtime struct {
	state lua54.State

	mu       sync.Mutex // guards closed and the poison value
	closed   bool
	poisoned bool
	poison   any

	refMu     sync.Mutex // guards the slot counts and the free list
	refCounts map[int]int
	freeSlots []int
	nextSlot  int

	// resumeMu serializes resume cycles across driving goroutines.
	resumeMu sync.Mutex
	pending  *releasePool
}

// New creates a fresh interpreter instance with the coroutine library
// opened. No other standard library is present until
// [Runtime.OpenLibraries].
func New() (*Runtime, error) {
	r := &Runtime{
		refCounts: make(map[int]int),
		nextSlot:  1,
		pending:   new(releasePool),
	}
	l := &r.state
	if !l.CheckStack(protectedSlots) {
		return nil, ErrStackOverflow
	}

	// Auxiliary table keeping referenced values alive.
	l.CreateTable(0, 16)
	l.RawSetField(lua54.RegistryIndex, refsKey)

	// Error trap shared by every protected entry.
	l.PushClosure(0, protectedHandler)
	l.RawSetField(lua54.RegistryIndex, handlerKey)

	// The coroutine bridge depends on the coroutine library.
	if err := r.openLibrary("coroutine", lua54.PushOpenCoroutine); err != nil {
		l.Close()
		return nil, err
	}
	if err := r.compileAsyncShim(); err != nil {
		l.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the interpreter and everything it owns. Every Ref,
// RegistryKey, Thread, and Scope created from the runtime becomes
// invalid. Close is idempotent.
func (r *Runtime) Close() error {
	r.resumeMu.Lock()
	defer r.resumeMu.Unlock()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	r.pending.close()
	return r.state.Close()
}

func (r *Runtime) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// enter gates an interpreter entry. A poisoned runtime re-panics with
// the value of the callback panic that poisoned it.
func (r *Runtime) enter() error {
	r.mu.Lock()
	if r.poisoned {
		v := r.poison
		r.mu.Unlock()
		panic(v)
	}
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return nil
}

// checkPanic re-raises a Go panic that a callback raised during the
// preceding interpreter call. The runtime is poisoned first: the panic
// unwound an unknown amount of script work, possibly past a
// script-level pcall, so no further entries are allowed.
func (r *Runtime) checkPanic() {
	v, ok := r.state.TakePendingPanic()
	if !ok {
		return
	}
	r.mu.Lock()
	r.poisoned = true
	r.poison = v
	r.mu.Unlock()
	panic(v)
}

// Protected runs op as one protected interpreter entry. nArgs declares
// how many stack slots op pushes and nResults how many it consumes for
// result conversion; headroom for both is asserted up front, failing
// with [ErrStackOverflow] before any interpreter code runs. On every
// exit path the interpreter stack is restored to its entry depth, and
// a callback panic captured during the entry is re-raised after the
// restore.
//
// Calls op makes should route errors through the trap pushed by
// pushHandler so interpreter-level failures carry a traceback.
func (r *Runtime) Protected(nArgs, nResults int, op func(l *lua54.State) error) error {
	if nArgs < 0 || nResults < 0 {
		panic("negative slot count")
	}
	if err := r.enter(); err != nil {
		return err
	}
	l := &r.state
	// A callback may re-enter this surface while an outer call on the
	// main state is still in flight; resync the stack mirror so the
	// entry depth recorded below is the true one.
	l.SyncTop()
	r.drainPending()
	if !l.CheckStack(nArgs + nResults + protectedSlots) {
		return ErrStackOverflow
	}
	base := l.Top()
	defer r.checkPanic()
	defer l.SetTop(base)
	return op(l)
}

// pushHandler pushes the error trap onto l's stack and returns its
// index for use as a message handler.
func (r *Runtime) pushHandler(l *lua54.State) int {
	l.RawField(lua54.RegistryIndex, handlerKey)
	return l.Top()
}

// protectedHandler runs inside the interpreter while an error is still
// unwinding, so the traceback across the failing frames is still
// available. It wraps the raw error value in a *RuntimeError; an error
// value that already is one passes through untouched.
func protectedHandler(l *lua54.State) (int, error) {
	var cause error
	var msg string
	if e, ok := l.ToError(1); ok {
		if _, already := e.(*RuntimeError); already {
			l.PushValue(1)
			return 1, nil
		}
		cause = e
		msg = e.Error()
	} else if s, ok := l.ToString(1); ok {
		msg = s
	} else {
		msg = fmt.Sprintf("(error object is a %v value)", l.Type(1))
	}
	l.Traceback(l, "", 1)
	tb, _ := l.ToString(-1)
	l.Pop(1)
	l.PushError(&RuntimeError{Message: msg, Traceback: tb, cause: cause})
	return 1, nil
}

// openLibrary loads a standard library, stores it in the
// loaded-modules table, and sets it as a global, the way require
// would.
func (r *Runtime) openLibrary(name string, push func(*lua54.State)) error {
	l := &r.state
	if !l.CheckStack(3) {
		return ErrStackOverflow
	}
	push(l)
	l.PushString(name)
	if err := l.Call(1, 1, 0); err != nil {
		l.Pop(1)
		return fmt.Errorf("lua: open %s library: %w", name, err)
	}
	if l.RawField(lua54.RegistryIndex, lua54.LoadedTable) != lua54.TypeTable {
		l.Pop(1)
		l.CreateTable(0, 8)
		l.PushValue(-1)
		l.RawSetField(lua54.RegistryIndex, lua54.LoadedTable)
	}
	l.PushValue(-2)
	l.RawSetField(-2, name)
	l.Pop(1)
	if err := l.SetGlobal(name, 0); err != nil {
		return fmt.Errorf("lua: open %s library: %w", name, err)
	}
	return nil
}

// asyncShim wraps an asynchronous callback's start function in a pure
// interpreter-side poll loop. The yield stays inside interpreter code,
// so no yield ever crosses a C or Go stack frame.
const asyncShim = `local yield, pending = ...
return function(start)
  local function step(poll, ready, ...)
    if ready then
      return ...
    end
    yield(pending)
    return step(poll, poll())
  end
  return function(...)
    local poll = start(...)
    return step(poll, poll())
  end
end
`

func (r *Runtime) compileAsyncShim() error {
	l := &r.state
	if !l.CheckStack(4) {
		return ErrStackOverflow
	}
	if err := l.LoadString(asyncShim, "=(async)", "t"); err != nil {
		l.Pop(1)
		return fmt.Errorf("lua: compile async shim: %w", err)
	}
	if _, err := l.Global("coroutine", 0); err != nil {
		l.Pop(2)
		return fmt.Errorf("lua: compile async shim: %w", err)
	}
	if _, err := l.Field(-1, "yield", 0); err != nil {
		l.Pop(3)
		return fmt.Errorf("lua: compile async shim: %w", err)
	}
	l.Remove(-2)
	l.PushLightUserdata(l.Sentinel())
	if err := l.Call(2, 1, 0); err != nil {
		l.Pop(1)
		return fmt.Errorf("lua: compile async shim: %w", err)
	}
	l.RawSetField(lua54.RegistryIndex, asyncKey)
	return nil
}

// GC runs a full interpreter garbage collection cycle.
func (r *Runtime) GC() error {
	if err := r.enter(); err != nil {
		return err
	}
	r.drainPending()
	r.state.GC()
	r.checkPanic()
	return nil
}

// GCCount returns the interpreter's current memory use in bytes.
func (r *Runtime) GCCount() (int64, error) {
	if err := r.enter(); err != nil {
		return 0, err
	}
	return r.state.GCCount(), nil
}

// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

// Package lua embeds a Lua 5.4 interpreter and exposes it through
// memory-safe handles usable from Go, including from asynchronous
// code.
//
// The interpreter itself is a stack-based, non-reentrant C library
// with longjmp error signaling; this package is the bridge that makes
// it safe and composable from Go:
//
//   - [Ref] is a counted reference into the interpreter's heap. It
//     keeps the referenced value alive across garbage collections
//     until the last reference is released.
//   - Every re-entry into the interpreter goes through the
//     protected-call protocol ([Runtime.Protected]): interpreter
//     errors become ordinary Go errors, Go panics never unwind
//     through interpreter frames, and the interpreter stack is
//     restored to its entry depth on every exit path.
//   - [Scope] registers Go closures and values inside the interpreter
//     for a bounded region and provably invalidates them on exit, so
//     registered objects may capture state that does not live as long
//     as the interpreter.
//   - [Thread] is a handle to an interpreter coroutine.
//     [Thread.Async] and [Thread.Stream] drive one as an asynchronous
//     task, passing the task's [Waker] into interpreter-exposed
//     asynchronous primitives through a registry mailbox.
//   - [RegistryKey] detaches a value from the runtime's goroutine
//     confinement for transfer across goroutines; its release is
//     deferred to the next interpreter entry.
//
// A [Runtime] is confined to one owning goroutine context. The
// exceptions are documented per type: resume cycles are serialized
// internally, and RegistryKey release is safe anywhere.
package lua

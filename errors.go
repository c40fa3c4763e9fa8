// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"errors"
)

// Errors reported by the bridge.
var (
	// ErrClosed is returned when a runtime is used after Close.
	ErrClosed = errors.New("lua: runtime closed")

	// ErrCoroutineInactive is returned by [Thread.Resume] when the
	// coroutine is not in a resumable state. No interpreter code runs.
	ErrCoroutineInactive = errors.New("lua: coroutine is not resumable")

	// ErrThreadFinished is returned when a future is driven for a
	// thread that is already terminal without having produced a result.
	ErrThreadFinished = errors.New("lua: thread already finished")

	// ErrStackOverflow is returned when the interpreter stack cannot
	// grow enough to admit an operation. The check happens before any
	// interpreter code runs.
	ErrStackOverflow = errors.New("lua: stack overflow")

	// ErrRecursiveCallback is raised when an exclusive callback is
	// entered again while an invocation is still on the interpreter's
	// call stack.
	ErrRecursiveCallback = errors.New("lua: callback entered recursively")

	// ErrCallbackDestructed is raised when the interpreter calls a
	// scoped function after its scope has exited.
	ErrCallbackDestructed = errors.New("lua: callback invalidated by scope exit")

	// ErrUserdataDestructed is returned when a scoped userdata's Go
	// value is requested after its scope has exited.
	ErrUserdataDestructed = errors.New("lua: userdata invalidated by scope exit")

	// ErrMismatchedRuntime is returned when a handle is used with a
	// runtime other than the one that created it.
	ErrMismatchedRuntime = errors.New("lua: handle belongs to a different runtime")
)

// RuntimeError is an error raised inside the interpreter and captured
// at the protected boundary. If the error originated from a Go error
// value returned by a callback, [errors.Is] and [errors.As] reach the
// original through the wrapper.
type RuntimeError struct {
	// Message is the error's rendering inside the interpreter.
	Message string

	// Traceback is the interpreter-level stack traceback captured
	// while the failing frames were still live, or "" if none was
	// available.
	Traceback string

	cause error
}

func (e *RuntimeError) Error() string {
	if e.Message == "" && e.cause != nil {
		return e.cause.Error()
	}
	return e.Message
}

func (e *RuntimeError) Unwrap() error {
	return e.cause
}

// asRuntimeError wraps an error coming out of the interpreter,
// attaching tb when the error does not already carry a traceback.
func asRuntimeError(err error, tb string) *RuntimeError {
	if re, ok := err.(*RuntimeError); ok {
		if re.Traceback == "" {
			re.Traceback = tb
		}
		return re
	}
	return &RuntimeError{
		Message:   err.Error(),
		Traceback: tb,
		cause:     err,
	}
}

// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"

	"moonwake.dev/lua"
)

// registerTaskModule publishes the task module:
//
//	local t = task.spawn(fn, ...)
//	local results = t.join()    -- suspends until fn finishes
//
// A spawned function runs as its own coroutine, driven in the
// background. It only makes progress while the interpreter is
// otherwise suspended (the interpreter runs one call stack at a time),
// so spawned tasks interleave at suspension points rather than running
// truly in parallel. join can be called more than once; every call
// reports the same outcome.
func (in *interp) registerTaskModule() error {
	spawn, err := in.function(func(rt *lua.Runtime, args []lua.Value) ([]lua.Value, error) {
		if len(args) == 0 {
			return nil, errors.New("task.spawn: missing function")
		}
		fn, ok := args[0].(*lua.Ref)
		if !ok {
			return nil, errors.New("task.spawn: first argument must be a function")
		}
		th, err := rt.NewThread(fn)
		if err != nil {
			return nil, err
		}
		fn.Release()

		task := th.Async(args[1:]...)
		type result struct {
			vals []lua.Value
			err  error
		}
		done := make(chan result, 1)
		in.group.Go(func() error {
			vals, err := task.Await(in.ctx)
			for _, a := range args[1:] {
				releaseValue(a)
			}
			th.Release()
			done <- result{vals, err}
			// A task failure is the joiner's to observe, not a reason
			// to tear down every other task.
			return nil
		})

		join, err := rt.NewAsyncFunction(func(ctx context.Context, _ []lua.Value) ([]lua.Value, error) {
			select {
			case res := <-done:
				done <- res
				return res.vals, res.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
		if err != nil {
			return nil, err
		}

		handle, err := rt.NewTable()
		if err != nil {
			join.Release()
			return nil, err
		}
		if err := rt.SetField(handle, "join", join); err != nil {
			join.Release()
			handle.Release()
			return nil, err
		}
		join.Release()
		return []lua.Value{handle}, nil
	})
	if err != nil {
		return err
	}
	return in.registerModule("task", map[string]lua.Value{"spawn": spawn})
}

// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"time"

	"moonwake.dev/lua"
)

// registerTimeModule publishes the time module:
//
//	time.sleep(seconds)  -- suspend the calling task
//	time.now()           -- wall clock, fractional seconds since epoch
//	time.monotonic()     -- fractional seconds since process start
func (in *interp) registerTimeModule() error {
	start := time.Now()

	sleep, err := in.asyncFunction(func(ctx context.Context, args []lua.Value) ([]lua.Value, error) {
		secs, err := numberArg(args, 0, "seconds")
		if err != nil {
			return nil, err
		}
		t := time.NewTimer(time.Duration(secs * float64(time.Second)))
		defer t.Stop()
		select {
		case <-t.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	if err != nil {
		return err
	}
	now, err := in.function(func(rt *lua.Runtime, args []lua.Value) ([]lua.Value, error) {
		return []lua.Value{float64(time.Now().UnixNano()) / float64(time.Second)}, nil
	})
	if err != nil {
		return err
	}
	monotonic, err := in.function(func(rt *lua.Runtime, args []lua.Value) ([]lua.Value, error) {
		return []lua.Value{time.Since(start).Seconds()}, nil
	})
	if err != nil {
		return err
	}

	return in.registerModule("time", map[string]lua.Value{
		"sleep":     sleep,
		"now":       now,
		"monotonic": monotonic,
	})
}

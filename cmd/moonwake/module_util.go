// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package main

import (
	"os"

	"github.com/google/uuid"
	"moonwake.dev/lua"
)

// registerUtilModule publishes the util module: uuid(), hostname(),
// getenv(name).
func (in *interp) registerUtilModule() error {
	newUUID, err := in.function(func(rt *lua.Runtime, args []lua.Value) ([]lua.Value, error) {
		u, err := uuid.NewRandom()
		if err != nil {
			return nil, err
		}
		return []lua.Value{u.String()}, nil
	})
	if err != nil {
		return err
	}
	hostname, err := in.function(func(rt *lua.Runtime, args []lua.Value) ([]lua.Value, error) {
		name, err := os.Hostname()
		if err != nil {
			return nil, err
		}
		return []lua.Value{name}, nil
	})
	if err != nil {
		return err
	}
	getenv, err := in.function(func(rt *lua.Runtime, args []lua.Value) ([]lua.Value, error) {
		name, err := stringArg(args, 0, "variable name")
		if err != nil {
			return nil, err
		}
		val, ok := os.LookupEnv(name)
		if !ok {
			return []lua.Value{nil}, nil
		}
		return []lua.Value{val}, nil
	})
	if err != nil {
		return err
	}

	return in.registerModule("util", map[string]lua.Value{
		"uuid":     newUUID,
		"hostname": hostname,
		"getenv":   getenv,
	})
}

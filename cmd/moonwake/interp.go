// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"moonwake.dev/lua"
	"zombiezen.com/go/log"
)

// interp is one hosted interpreter: the runtime, the script-visible
// modules, and the background work the modules spawn.
type interp struct {
	g     *globalConfig
	ctx   context.Context
	rt    *lua.Runtime
	group *errgroup.Group

	sqlite *sqliteState
	tcp    *tcpState
}

// newInterp builds a runtime with the standard libraries, the module
// loader, and the script-visible modules registered. ctx bounds all
// background work the modules start.
func newInterp(ctx context.Context, g *globalConfig) (*interp, error) {
	rt, err := lua.New()
	if err != nil {
		return nil, err
	}
	if err := rt.OpenLibraries(); err != nil {
		rt.Close()
		return nil, err
	}
	group, groupCtx := errgroup.WithContext(ctx)
	in := &interp{g: g, ctx: groupCtx, rt: rt, group: group}

	setups := []struct {
		name string
		f    func() error
	}{
		{"loader", in.installLoader},
		{"time", in.registerTimeModule},
		{"json", in.registerJSONModule},
		{"sqlite", in.registerSQLiteModule},
		{"tcp", in.registerTCPModule},
		{"task", in.registerTaskModule},
		{"util", in.registerUtilModule},
	}
	for _, s := range setups {
		if err := s.f(); err != nil {
			rt.Close()
			return nil, fmt.Errorf("register %s: %w", s.name, err)
		}
	}
	return in, nil
}

// close waits for spawned work, closes module resources, and releases
// the runtime.
func (in *interp) close() error {
	if err := in.group.Wait(); err != nil {
		log.Debugf(in.ctx, "spawned task: %v", err)
	}
	if in.tcp != nil {
		in.tcp.close()
	}
	if in.sqlite != nil {
		in.sqlite.close()
	}
	return in.rt.Close()
}

// registerModule publishes entries as a module table under name in the
// loaded-modules table, so scripts reach it with require(name).
func (in *interp) registerModule(name string, entries map[string]lua.Value) error {
	rt := in.rt
	tbl, err := rt.NewTable()
	if err != nil {
		return err
	}
	defer tbl.Release()
	for k, v := range entries {
		if err := rt.SetField(tbl, k, v); err != nil {
			return err
		}
		if ref, ok := v.(*lua.Ref); ok {
			ref.Release()
		}
	}
	reg, err := rt.LoadString(`local name, mod = ...
package.loaded[name] = mod`, "=(module)")
	if err != nil {
		return err
	}
	defer reg.Release()
	_, err = rt.Call(reg, name, tbl)
	return err
}

// moduleTable fetches a previously registered module's table from the
// loaded-modules table.
func (in *interp) moduleTable(name string) (*lua.Ref, error) {
	get, err := in.rt.LoadString(`return package.loaded[...]`, "=(module)")
	if err != nil {
		return nil, err
	}
	defer get.Release()
	out, err := in.rt.Call(get, name)
	if err != nil {
		return nil, err
	}
	ref, ok := out[0].(*lua.Ref)
	if !ok {
		return nil, fmt.Errorf("module %s is not registered", name)
	}
	return ref, nil
}

// function registers a synchronous module function.
func (in *interp) function(fn lua.Func) (lua.Value, error) {
	ref, err := in.rt.NewFunction(fn)
	if err != nil {
		return nil, err
	}
	return ref, nil
}

// asyncFunction registers an asynchronous module function.
func (in *interp) asyncFunction(fn lua.AsyncFunc) (lua.Value, error) {
	ref, err := in.rt.NewAsyncFunction(fn)
	if err != nil {
		return nil, err
	}
	return ref, nil
}

// formatValues renders a result list for display, one line's worth,
// tab-separated like the interpreter's own print.
func (in *interp) formatValues(vals []lua.Value) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		parts = append(parts, in.formatValue(v))
	}
	return strings.Join(parts, "\t")
}

func (in *interp) formatValue(v lua.Value) string {
	switch v := v.(type) {
	case nil:
		return "nil"
	case *lua.Ref:
		ts, err := in.rt.Global("tostring")
		if err != nil {
			return "<value>"
		}
		defer releaseValue(ts)
		out, err := in.rt.Call(ts, v)
		if err != nil || len(out) == 0 {
			return "<value>"
		}
		s, _ := out[0].(string)
		return s
	default:
		return fmt.Sprint(v)
	}
}

// releaseValue releases v if it is a handle. Module code uses it to
// drop intermediate refs without caring about the value's kind.
func releaseValue(v lua.Value) {
	if ref, ok := v.(*lua.Ref); ok {
		ref.Release()
	}
}

// stringArg reads a required string argument.
func stringArg(args []lua.Value, i int, what string) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing %s (argument %d)", what, i+1)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%s (argument %d) must be a string", what, i+1)
	}
	return s, nil
}

// intArg reads a required integer argument.
func intArg(args []lua.Value, i int, what string) (int64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing %s (argument %d)", what, i+1)
	}
	switch n := args[i].(type) {
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("%s (argument %d) must be a number", what, i+1)
	}
}

// numberArg reads a required numeric argument as a float.
func numberArg(args []lua.Value, i int, what string) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing %s (argument %d)", what, i+1)
	}
	switch n := args[i].(type) {
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("%s (argument %d) must be a number", what, i+1)
	}
}

// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/tidwall/gjson"
	"moonwake.dev/lua"
)

// maxJSONDepth bounds recursion when converting tables, since script
// tables can form cycles.
const maxJSONDepth = 64

// registerJSONModule publishes the json module:
//
//	json.encode(v)        -- table/scalar to JSON text
//	json.decode(s)        -- JSON text to table/scalar
//	json.get(s, path)     -- path query into JSON text without decoding it all
func (in *interp) registerJSONModule() error {
	encode, err := in.function(func(rt *lua.Runtime, args []lua.Value) ([]lua.Value, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("json.encode: missing value")
		}
		x, err := in.valueToGo(args[0], 0)
		if err != nil {
			return nil, err
		}
		data, err := jsonv2.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("json.encode: %v", err)
		}
		return []lua.Value{string(data)}, nil
	})
	if err != nil {
		return err
	}
	decode, err := in.function(func(rt *lua.Runtime, args []lua.Value) ([]lua.Value, error) {
		s, err := stringArg(args, 0, "json text")
		if err != nil {
			return nil, err
		}
		var x any
		if err := jsonv2.Unmarshal([]byte(s), &x); err != nil {
			return nil, fmt.Errorf("json.decode: %v", err)
		}
		v, err := in.goToValue(x)
		if err != nil {
			return nil, err
		}
		return []lua.Value{v}, nil
	})
	if err != nil {
		return err
	}
	get, err := in.function(func(rt *lua.Runtime, args []lua.Value) ([]lua.Value, error) {
		s, err := stringArg(args, 0, "json text")
		if err != nil {
			return nil, err
		}
		path, err := stringArg(args, 1, "path")
		if err != nil {
			return nil, err
		}
		res := gjson.Get(s, path)
		if !res.Exists() {
			return []lua.Value{nil}, nil
		}
		v, err := in.goToValue(res.Value())
		if err != nil {
			return nil, err
		}
		return []lua.Value{v}, nil
	})
	if err != nil {
		return err
	}

	return in.registerModule("json", map[string]lua.Value{
		"encode": encode,
		"decode": decode,
		"get":    get,
	})
}

// valueToGo converts a script value into the shape jsonv2 marshals:
// scalars as themselves, tables as []any when their keys are the
// sequence 1..n, map[string]any otherwise.
func (in *interp) valueToGo(v lua.Value, depth int) (any, error) {
	if depth > maxJSONDepth {
		return nil, fmt.Errorf("json.encode: value nests too deeply")
	}
	ref, ok := v.(*lua.Ref)
	if !ok {
		return v, nil
	}

	type entry struct {
		key lua.Value
		val any
	}
	var entries []entry
	err := in.rt.Pairs(ref, func(k, val lua.Value) error {
		converted, err := in.valueToGo(val, depth+1)
		if err != nil {
			return err
		}
		entries = append(entries, entry{key: k, val: converted})
		releaseValue(k)
		releaseValue(val)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if arr, ok := asArray(entries, func(e entry) (lua.Value, any) { return e.key, e.val }); ok {
		return arr, nil
	}
	m := make(map[string]any, len(entries))
	for _, e := range entries {
		switch k := e.key.(type) {
		case string:
			m[k] = e.val
		case int64:
			m[fmt.Sprint(k)] = e.val
		case float64:
			m[fmt.Sprint(k)] = e.val
		default:
			return nil, fmt.Errorf("json.encode: unsupported key type %T", e.key)
		}
	}
	return m, nil
}

// asArray reports whether the entries' keys form exactly the sequence
// 1..n, returning the values indexed accordingly.
func asArray[E any](entries []E, split func(E) (lua.Value, any)) ([]any, bool) {
	arr := make([]any, len(entries))
	seen := make([]bool, len(entries))
	for _, e := range entries {
		k, v := split(e)
		i, ok := k.(int64)
		if !ok || i < 1 || i > int64(len(entries)) || seen[i-1] {
			return nil, false
		}
		arr[i-1] = v
		seen[i-1] = true
	}
	return arr, true
}

// goToValue converts decoded JSON (or gjson result) data into script
// values, building tables for objects and arrays.
func (in *interp) goToValue(x any) (lua.Value, error) {
	switch x := x.(type) {
	case nil:
		return nil, nil
	case bool, int64, float64, string:
		return x, nil
	case []any:
		tbl, err := in.rt.NewTable()
		if err != nil {
			return nil, err
		}
		for i, elem := range x {
			v, err := in.goToValue(elem)
			if err != nil {
				tbl.Release()
				return nil, err
			}
			if err := in.rt.SetIndex(tbl, int64(i+1), v); err != nil {
				tbl.Release()
				return nil, err
			}
			releaseValue(v)
		}
		return tbl, nil
	case map[string]any:
		tbl, err := in.rt.NewTable()
		if err != nil {
			return nil, err
		}
		for k, elem := range x {
			v, err := in.goToValue(elem)
			if err != nil {
				tbl.Release()
				return nil, err
			}
			if err := in.rt.SetField(tbl, k, v); err != nil {
				tbl.Release()
				return nil, err
			}
			releaseValue(v)
		}
		return tbl, nil
	default:
		return nil, fmt.Errorf("json: cannot convert %T", x)
	}
}

// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	glc "github.com/lollipopkit/go-lru-cacher"
	"moonwake.dev/lua"
	"zombiezen.com/go/log"
)

// installLoader appends a searcher to package.searchers that resolves
// require(name) against the configured module path. Compiled chunks
// are kept in an LRU keyed by file path, so a module file required
// from several scripts in one process compiles once.
func (in *interp) installLoader() error {
	chunks := glc.NewCacher[*lua.Ref](in.g.ModuleCacheSize)

	searcher, err := in.rt.NewFunction(func(rt *lua.Runtime, args []lua.Value) ([]lua.Value, error) {
		name, err := stringArg(args, 0, "module name")
		if err != nil {
			return nil, err
		}
		path, ok := in.findModule(name)
		if !ok {
			return []lua.Value{fmt.Sprintf("no file %q on module path", moduleFileName(name))}, nil
		}
		if cached, ok := chunks.Get(path); ok {
			log.Debugf(in.ctx, "module %s: cached chunk for %s", name, path)
			return []lua.Value{(*cached).Clone(), path}, nil
		}
		f, err := os.Open(path)
		if err != nil {
			return []lua.Value{fmt.Sprintf("cannot open %q: %v", path, err)}, nil
		}
		defer f.Close()
		chunk, err := rt.Load(f, "@"+path)
		if err != nil {
			return nil, err
		}
		chunks.Set(path, &chunk)
		log.Debugf(in.ctx, "module %s: compiled %s", name, path)
		return []lua.Value{chunk.Clone(), path}, nil
	})
	if err != nil {
		return err
	}
	defer searcher.Release()

	install, err := in.rt.LoadString(`local searcher = ...
table.insert(package.searchers, searcher)`, "=(loader)")
	if err != nil {
		return err
	}
	defer install.Release()
	_, err = in.rt.Call(install, searcher)
	return err
}

// findModule resolves a module name to an existing file on the module
// path.
func (in *interp) findModule(name string) (string, bool) {
	file := moduleFileName(name)
	for _, dir := range in.g.ModulePath {
		path := filepath.Join(dir, file)
		if _, err := os.Stat(path); err == nil {
			return path, true
		} else if !errors.Is(err, os.ErrNotExist) {
			log.Debugf(in.ctx, "module search: %v", err)
		}
	}
	return "", false
}

func moduleFileName(name string) string {
	return filepath.Join(strings.Split(name, ".")...) + ".lua"
}

// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/tailscale/hujson"
	"go4.org/xdgdir"
)

type globalConfig struct {
	Debug           bool     `json:"debug"`
	ModulePath      []string `json:"modulePath"`
	ModuleCacheSize int      `json:"moduleCacheSize"`
	Database        string   `json:"database"`
}

func defaultGlobalConfig() *globalConfig {
	return &globalConfig{
		ModulePath:      []string{"."},
		ModuleCacheSize: 64,
		Database:        ":memory:",
	}
}

func (g *globalConfig) mergeEnvironment() error {
	if p := os.Getenv("MOONWAKE_PATH"); p != "" {
		g.ModulePath = filepath.SplitList(p)
	}
	if db := os.Getenv("MOONWAKE_DATABASE"); db != "" {
		g.Database = db
	}
	return nil
}

// mergeFiles reads the given JWCC configuration files in order,
// skipping those that do not exist. Later files override earlier ones.
func (g *globalConfig) mergeFiles(paths iter.Seq[string]) error {
	for path := range paths {
		huJSONData, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		jsonData, err := hujson.Standardize(huJSONData)
		if err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
		if err := jsonv2.Unmarshal(jsonData, g, jsonv2.RejectUnknownMembers(false)); err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
	}
	return nil
}

// configFilePaths yields configuration file paths in increasing
// precedence order: XDG search paths from least to most specific, then
// the path given on the command line, if any.
func configFilePaths(extra string) iter.Seq[string] {
	return func(yield func(string) bool) {
		paths := xdgdir.Config.SearchPaths()
		for i := len(paths) - 1; i >= 0; i-- {
			if !yield(filepath.Join(paths[i], "moonwake", "config.jwcc")) {
				return
			}
		}
		if extra != "" {
			yield(extra)
		}
	}
}

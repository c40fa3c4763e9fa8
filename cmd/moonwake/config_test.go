// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package main

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestDefaultGlobalConfig(t *testing.T) {
	got := defaultGlobalConfig()
	if len(got.ModulePath) == 0 {
		t.Errorf("defaultGlobalConfig().ModulePath is empty")
	}
	if got.ModuleCacheSize <= 0 {
		t.Errorf("defaultGlobalConfig().ModuleCacheSize = %d; want positive", got.ModuleCacheSize)
	}
	if got.Database == "" {
		t.Errorf("defaultGlobalConfig().Database is empty")
	}
}

func TestGlobalConfigMergeFiles(t *testing.T) {
	dir := t.TempDir()
	var paths [3]string
	paths[0] = filepath.Join(dir, "config1.jwcc")
	if err := os.WriteFile(paths[0], []byte(`{"debug": true, "database": "/foo.db"}`+"\n"), 0o666); err != nil {
		t.Fatal(err)
	}
	paths[1] = filepath.Join(dir, "config2.jwcc")
	if err := os.WriteFile(paths[1], []byte(`{
		// Comments and trailing commas are permitted.
		"database": "/bar.db",
		"modulePath": ["/lib/lua",],
	}`+"\n"), 0o666); err != nil {
		t.Fatal(err)
	}
	// Missing files are skipped, not errors.
	paths[2] = filepath.Join(dir, "missing.jwcc")

	g := new(globalConfig)
	err := g.mergeFiles(func(yield func(string) bool) {
		for _, path := range paths {
			if !yield(path) {
				return
			}
		}
	})
	if err != nil {
		t.Error("mergeFiles:", err)
	}
	if !g.Debug {
		t.Error("g.Debug = false; want true (config1.jwcc ignored)")
	}
	if got, want := g.Database, "/bar.db"; got != want {
		t.Errorf("g.Database = %q; want %q", got, want)
	}
	if got, want := g.ModulePath, []string{"/lib/lua"}; !slices.Equal(got, want) {
		t.Errorf("g.ModulePath = %q; want %q", got, want)
	}
}

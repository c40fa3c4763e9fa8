// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package main

import (
	"slices"
	"strings"

	"github.com/spf13/pflag"
)

// pathListFlag is the implementation of [pflag.Value] and
// [pflag.SliceValue] for --path. The first use replaces the configured
// search path; later uses append. Duplicate entries are dropped.
type pathListFlag struct {
	list    *[]string
	changed bool
}

var _ pflag.SliceValue = (*pathListFlag)(nil)

func (f *pathListFlag) Type() string { return "stringArray" }

func (f *pathListFlag) String() string {
	return "[" + strings.Join(*f.list, ",") + "]"
}

func (f *pathListFlag) Set(s string) error {
	if !f.changed {
		*f.list = nil
		f.changed = true
	}
	return f.Append(s)
}

func (f *pathListFlag) Append(s string) error {
	if !slices.Contains(*f.list, s) {
		*f.list = append(*f.list, s)
	}
	return nil
}

func (f *pathListFlag) Replace(val []string) error {
	*f.list = nil
	f.changed = true
	for _, s := range val {
		if err := f.Append(s); err != nil {
			return err
		}
	}
	return nil
}

func (f *pathListFlag) GetSlice() []string {
	return slices.Clone(*f.list)
}

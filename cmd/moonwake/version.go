// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"moonwake.dev/lua"
)

// moonwakeVersion is the version string filled in by the linker
// (e.g. "1.2.3").
var moonwakeVersion string

func newVersionCommand() *cobra.Command {
	c := &cobra.Command{
		Use:                   "version",
		Short:                 "show version information",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		firstLine := "moonwake"
		if moonwakeVersion == "" {
			firstLine += " (version unknown)"
		} else {
			firstLine += " version " + moonwakeVersion
		}
		fmt.Println(firstLine)
		fmt.Println(lua.LuaVersion)
		fmt.Printf("built with %s for %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return nil
	}
	return c
}

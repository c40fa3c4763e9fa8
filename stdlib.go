// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"fmt"

	"moonwake.dev/lua/internal/lua54"
)

// A Library identifies one of the interpreter's standard libraries.
type Library int

const (
	LibBase Library = iota
	LibTable
	LibString
	LibUTF8
	LibMath
	LibIO
	LibOS
	LibDebug
	LibPackage
)

var libraries = [...]struct {
	name string
	push func(*lua54.State)
}{
	LibBase:    {"_G", lua54.PushOpenBase},
	LibTable:   {"table", lua54.PushOpenTable},
	LibString:  {"string", lua54.PushOpenString},
	LibUTF8:    {"utf8", lua54.PushOpenUTF8},
	LibMath:    {"math", lua54.PushOpenMath},
	LibIO:      {"io", lua54.PushOpenIO},
	LibOS:      {"os", lua54.PushOpenOS},
	LibDebug:   {"debug", lua54.PushOpenDebug},
	LibPackage: {"package", lua54.PushOpenPackage},
}

func (lib Library) String() string {
	if lib < 0 || int(lib) >= len(libraries) {
		return fmt.Sprintf("Library(%d)", int(lib))
	}
	return libraries[lib].name
}

// OpenLibraries loads the given standard libraries, or all of them
// when called with no arguments, registering each in the
// loaded-modules table and as a global. The coroutine library is not
// in the set: the bridge depends on it, so it is opened when the
// runtime is created.
func (r *Runtime) OpenLibraries(libs ...Library) error {
	if err := r.enter(); err != nil {
		return err
	}
	if len(libs) == 0 {
		libs = []Library{
			LibBase, LibTable, LibString, LibUTF8, LibMath,
			LibIO, LibOS, LibDebug, LibPackage,
		}
	}
	for _, lib := range libs {
		if lib < 0 || int(lib) >= len(libraries) {
			return fmt.Errorf("lua: open libraries: unknown library %d", int(lib))
		}
		if err := r.openLibrary(libraries[lib].name, libraries[lib].push); err != nil {
			return err
		}
	}
	return nil
}

// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"
	"zombiezen.com/go/bass/sigterm"
	"zombiezen.com/go/log"
)

func main() {
	rootCommand := &cobra.Command{
		Use:           "moonwake",
		Short:         "run Lua scripts as asynchronous tasks",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	g := defaultGlobalConfig()
	if err := g.mergeEnvironment(); err != nil {
		initLogging(false)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}

	configPath := rootCommand.PersistentFlags().String("config", "", "`path` to an extra configuration file")
	showDebug := rootCommand.PersistentFlags().Bool("debug", false, "show debugging output")
	var flagModulePath []string
	modulePathFlag := &pathListFlag{list: &flagModulePath}
	rootCommand.PersistentFlags().Var(modulePathFlag, "path", "`directory` to search for modules (repeatable; overrides configuration)")

	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := g.mergeFiles(configFilePaths(*configPath)); err != nil {
			return err
		}
		if modulePathFlag.changed {
			g.ModulePath = flagModulePath
		}
		initLogging(*showDebug || g.Debug)
		return nil
	}

	rootCommand.AddCommand(
		newRunCommand(g),
		newEvalCommand(g),
		newREPLCommand(g),
		newVersionCommand(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), sigterm.Signals()...)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		initLogging(*showDebug)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "moonwake: ", log.StdFlags, nil),
		})
	})
}

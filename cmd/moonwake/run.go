// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"moonwake.dev/lua"
	"zombiezen.com/go/log"
)

type runOptions struct {
	file   string
	args   []string
	stream bool
}

func newRunCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "run [options] FILE [ARG [...]]",
		Short:                 "run a script as an asynchronous task",
		DisableFlagsInUseLine: true,
		Args:                  cobra.MinimumNArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := new(runOptions)
	c.Flags().BoolVar(&opts.stream, "stream", false, "print each yielded value set instead of only the final result")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		opts.file = args[0]
		opts.args = args[1:]
		return runRun(cmd.Context(), g, opts)
	}
	return c
}

func runRun(ctx context.Context, g *globalConfig, opts *runOptions) error {
	in, err := newInterp(ctx, g)
	if err != nil {
		return err
	}
	defer func() {
		if err := in.close(); err != nil {
			log.Errorf(ctx, "shutdown: %v", err)
		}
	}()

	f, err := os.Open(opts.file)
	if err != nil {
		return err
	}
	chunk, err := in.rt.Load(f, "@"+opts.file)
	f.Close()
	if err != nil {
		return err
	}
	defer chunk.Release()
	th, err := in.rt.NewThread(chunk)
	if err != nil {
		return err
	}
	defer th.Release()

	scriptArgs := make([]lua.Value, 0, len(opts.args))
	for _, a := range opts.args {
		scriptArgs = append(scriptArgs, a)
	}

	if opts.stream {
		for vals, err := range th.Stream(scriptArgs...).All(ctx) {
			if err != nil {
				return scriptError(err)
			}
			fmt.Println(in.formatValues(vals))
		}
		return nil
	}

	vals, err := th.Async(scriptArgs...).Await(ctx)
	if err != nil {
		return scriptError(err)
	}
	if len(vals) > 0 {
		fmt.Println(in.formatValues(vals))
	}
	return nil
}

// scriptError surfaces a script failure with its traceback at debug
// level, keeping the one-line message as the command error.
func scriptError(err error) error {
	re := new(lua.RuntimeError)
	if errors.As(err, &re) && re.Traceback != "" {
		log.Debugf(context.Background(), "script traceback:\n%s", re.Traceback)
	}
	return err
}

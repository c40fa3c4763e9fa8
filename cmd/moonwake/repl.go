// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"moonwake.dev/lua"
)

func newEvalCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "eval EXPR",
		Short:                 "evaluate one expression and print its results",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runEval(cmd.Context(), g, args[0])
	}
	return c
}

func runEval(ctx context.Context, g *globalConfig, expr string) error {
	in, err := newInterp(ctx, g)
	if err != nil {
		return err
	}
	defer in.close()
	vals, err := in.evalAsync(ctx, expr, "=(eval)")
	if err != nil {
		return scriptError(err)
	}
	if len(vals) > 0 {
		fmt.Println(in.formatValues(vals))
	}
	return nil
}

func newREPLCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "repl",
		Short:                 "interactive prompt",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runREPL(cmd.Context(), g)
	}
	return c
}

func runREPL(ctx context.Context, g *globalConfig) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("repl: standard input is not a terminal")
	}
	in, err := newInterp(ctx, g)
	if err != nil {
		return err
	}
	defer in.close()

	fmt.Printf("moonwake (%s)\n", lua.LuaVersion)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		vals, err := in.evalAsync(ctx, line, "=(repl)")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		if len(vals) > 0 {
			fmt.Println(in.formatValues(vals))
		}
	}
}

// evalAsync compiles src (preferring expression form, so "1 + 1"
// prints 2) and drives it as an asynchronous task, so the module
// surface's asynchronous functions work at the prompt.
func (in *interp) evalAsync(ctx context.Context, src, chunkName string) ([]lua.Value, error) {
	chunk, err := in.rt.LoadString("return "+src, chunkName)
	if err != nil {
		chunk, err = in.rt.LoadString(src, chunkName)
		if err != nil {
			return nil, err
		}
	}
	defer chunk.Release()
	th, err := in.rt.NewThread(chunk)
	if err != nil {
		return nil, err
	}
	defer th.Release()
	return th.Async().Await(ctx)
}

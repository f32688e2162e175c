// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type dumpOptions struct {
	count int
	sizes []string
	every int
}

func newDumpCmd(g *globalOptions) *cobra.Command {
	o := &dumpOptions{}
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Show the free-block table after a fixed allocation pattern",
		Long: `The dump command allocates count blocks cycling through the given sizes,
frees every n-th block and prints the heap's free-block table together with
the pool categories.

Example:
  talloc dump
  talloc dump --count 20 --sizes 64,3KiB,10KiB --every 3
  talloc dump --no-pools --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDump(cmd, g, o)
		},
	}
	f := cmd.Flags()
	f.IntVar(&o.count, "count", 10, "Blocks to allocate")
	f.StringSliceVar(&o.sizes, "sizes", []string{"16", "3KiB"}, "Request sizes, used in turn")
	f.IntVar(&o.every, "every", 2, "Free every n-th block")
	return cmd
}

func runDump(cmd *cobra.Command, g *globalOptions, o *dumpOptions) error {
	if o.count < 0 || o.every <= 0 || len(o.sizes) == 0 {
		return errors.New("count must not be negative, every must be positive and sizes must not be empty")
	}
	sizes := make([]uintptr, len(o.sizes))
	for i, s := range o.sizes {
		n, err := humanize.ParseBytes(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid size %q: %w", s, err)
		}
		sizes[i] = uintptr(n)
	}

	tl, err := g.newTalloc()
	if err != nil {
		return err
	}
	defer func() { _ = tl.ForceReset() }()

	ptrs := make([]unsafe.Pointer, o.count)
	for i := range ptrs {
		ptrs[i] = tl.Malloc(sizes[i%len(sizes)])
	}
	for i := 0; i < len(ptrs); i += o.every {
		tl.Free(ptrs[i])
	}
	if err := tl.Check(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if g.jsonOut {
		return printJSON(out, newStatsReport(tl.Stats()))
	}
	if err := tl.Print(out); err != nil {
		return err
	}
	writeStats(out, tl.Stats())
	return nil
}

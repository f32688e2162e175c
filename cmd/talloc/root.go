// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/wundergraph/go-talloc"
)

// globalOptions are the allocator settings shared by every subcommand.
type globalOptions struct {
	segmentSize  string
	granularity  int
	threshold    int
	cellsPerSlab int
	noPools      bool
	goHeap       bool
	memoryLimit  string
	verbose      bool
	jsonOut      bool
}

func newRootCmd() *cobra.Command {
	o := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "talloc",
		Short: "Exercise and inspect the talloc allocator",
		Long: `talloc runs synthetic allocation workloads against a fresh allocator
and reports what the heap and the pools look like afterwards.`,
		SilenceUsage: true,
	}

	f := cmd.PersistentFlags()
	f.StringVar(&o.segmentSize, "segment-size", "4MiB", "Minimum segment size requested from the platform")
	f.IntVar(&o.granularity, "granularity", talloc.DefaultPoolGranularity, "Step between pool cell sizes")
	f.IntVar(&o.threshold, "threshold", talloc.DefaultSmallThreshold, "Largest cell size served by the pools")
	f.IntVar(&o.cellsPerSlab, "cells-per-slab", talloc.DefaultCellsPerSlab, "Cells per pool slab")
	f.BoolVar(&o.noPools, "no-pools", false, "Serve every request from the heap")
	f.BoolVar(&o.goHeap, "go-heap", false, "Take segments from the Go heap instead of anonymous mappings")
	f.StringVar(&o.memoryLimit, "memory-limit", "", "Cap on segment bytes, e.g. 512MiB")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "Log allocator events to stderr")
	f.BoolVar(&o.jsonOut, "json", false, "Output in JSON format")

	cmd.AddCommand(newStressCmd(o), newDumpCmd(o))
	return cmd
}

// newTalloc builds an allocator from the flags. Force reset is enabled so
// the commands can hand everything back when they finish.
func (o *globalOptions) newTalloc() (*talloc.Talloc, error) {
	segment, err := humanize.ParseBytes(o.segmentSize)
	if err != nil {
		return nil, err
	}
	opts := []talloc.Option{
		talloc.WithSegmentSize(int(segment)),
		talloc.WithPoolGranularity(o.granularity),
		talloc.WithSmallThreshold(o.threshold),
		talloc.WithCellsPerSlab(o.cellsPerSlab),
		talloc.WithPools(!o.noPools),
		talloc.WithForceReset(true),
	}
	if o.memoryLimit != "" {
		limit, err := humanize.ParseBytes(o.memoryLimit)
		if err != nil {
			return nil, err
		}
		opts = append(opts, talloc.WithMemoryLimit(int64(limit)))
	}
	if o.goHeap {
		opts = append(opts, talloc.WithGoHeapSegments())
	}
	if o.verbose {
		opts = append(opts, talloc.WithLogger(talloc.NewTextLogger(slog.LevelDebug)))
	}
	return talloc.New(opts...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// statsReport is the JSON form of talloc.Stats.
type statsReport struct {
	Segments    int          `json:"segments"`
	Allocated   uint64       `json:"allocated_bytes"`
	Used        uint64       `json:"used_bytes"`
	FreeBlocks  int          `json:"free_blocks"`
	FreeBytes   uint64       `json:"free_bytes"`
	LargestFree uint64       `json:"largest_free_block_bytes"`
	MemoryLimit int64        `json:"memory_limit_bytes,omitempty"`
	Pools       []poolReport `json:"pools,omitempty"`
}

type poolReport struct {
	CellSize uint64 `json:"cell_size"`
	Slabs    int    `json:"slabs"`
	Live     int    `json:"live"`
	Free     int    `json:"free"`
}

func newStatsReport(s talloc.Stats) statsReport {
	r := statsReport{
		Segments:    s.Segments,
		Allocated:   uint64(s.Allocated),
		Used:        uint64(s.Used),
		FreeBlocks:  s.FreeBlocks,
		FreeBytes:   uint64(s.FreeBytes),
		LargestFree: uint64(s.LargestFree),
		MemoryLimit: s.MemoryLimit,
	}
	for _, p := range s.Pools {
		r.Pools = append(r.Pools, poolReport{
			CellSize: uint64(p.CellSize),
			Slabs:    p.Slabs,
			Live:     p.Live,
			Free:     p.Free,
		})
	}
	return r
}

// writeStats prints a human-readable summary of s.
func writeStats(w io.Writer, s talloc.Stats) {
	p := func(format string, args ...any) {
		_, _ = fmt.Fprintf(w, format, args...)
	}
	p("Segments:        %d\n", s.Segments)
	p("Allocated:       %s\n", humanize.IBytes(uint64(s.Allocated)))
	p("Used:            %s\n", humanize.IBytes(uint64(s.Used)))
	p("Free blocks:     %s (%s, largest %s)\n",
		humanize.Comma(int64(s.FreeBlocks)), humanize.IBytes(uint64(s.FreeBytes)), humanize.IBytes(uint64(s.LargestFree)))
	if s.MemoryLimit > 0 {
		p("Memory limit:    %s\n", humanize.IBytes(uint64(s.MemoryLimit)))
	}
	if len(s.Pools) == 0 {
		return
	}
	p("\nPool categories:\n")
	p("  %10s %8s %10s %10s\n", "cell size", "slabs", "live", "free")
	for _, c := range s.Pools {
		p("  %10d %8d %10s %10s\n", c.CellSize, c.Slabs, humanize.Comma(int64(c.Live)), humanize.Comma(int64(c.Free)))
	}
}

// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wundergraph/go-talloc"
	"github.com/wundergraph/go-talloc/metrics"
)

type stressOptions struct {
	workers     int
	ops         int
	maxSize     string
	live        int
	seed        uint64
	optimize    bool
	metricsAddr string
}

func newStressCmd(g *globalOptions) *cobra.Command {
	o := &stressOptions{}
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a concurrent random allocation workload",
		Long: `The stress command runs workers that allocate, resize and free blocks of
random size, filling every block with a pattern and verifying it before the
block is released. Afterwards the heap invariants are checked.

Example:
  talloc stress --workers 8 --ops 100000
  talloc stress --max-size 64KiB --metrics-addr :2112
  talloc stress --no-pools --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStress(cmd, g, o)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&o.workers, "workers", "w", 4, "Concurrent workers")
	f.IntVarP(&o.ops, "ops", "n", 10000, "Operations per worker")
	f.StringVar(&o.maxSize, "max-size", "8KiB", "Largest request size")
	f.IntVar(&o.live, "live", 512, "Live allocations each worker keeps at most")
	f.Uint64Var(&o.seed, "seed", 1, "Random seed")
	f.BoolVar(&o.optimize, "optimize", true, "Reclaim idle pool slabs at the end")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	return cmd
}

type stressReport struct {
	Workers    int         `json:"workers"`
	Operations int         `json:"operations"`
	Duration   string      `json:"duration"`
	OpsPerSec  float64     `json:"ops_per_sec"`
	Workload   statsReport `json:"after_workload"`
	Cleanup    statsReport `json:"after_cleanup"`
}

func runStress(cmd *cobra.Command, g *globalOptions, o *stressOptions) error {
	if o.workers <= 0 || o.ops < 0 || o.live <= 0 {
		return errors.New("workers and live must be positive, ops must not be negative")
	}
	maxSize, err := humanize.ParseBytes(o.maxSize)
	if err != nil {
		return fmt.Errorf("invalid --max-size: %w", err)
	}
	if maxSize == 0 {
		return errors.New("--max-size must be positive")
	}
	tl, err := g.newTalloc()
	if err != nil {
		return err
	}
	defer func() { _ = tl.ForceReset() }()

	if o.metricsAddr != "" {
		stop, err := serveMetrics(tl, o.metricsAddr)
		if err != nil {
			return err
		}
		defer stop()
	}

	start := time.Now()
	eg, ctx := errgroup.WithContext(cmd.Context())
	for w := range o.workers {
		eg.Go(func() error {
			return stressWorker(ctx, tl, w, rand.New(rand.NewPCG(o.seed, uint64(w))), o.ops, o.live, uintptr(maxSize))
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	settled := tl.Stats()
	if o.optimize {
		tl.Optimize()
	}
	if err := tl.Check(); err != nil {
		return err
	}

	total := o.workers * o.ops
	report := stressReport{
		Workers:    o.workers,
		Operations: total,
		Duration:   elapsed.String(),
		OpsPerSec:  float64(total) / elapsed.Seconds(),
		Workload:   newStatsReport(settled),
		Cleanup:    newStatsReport(tl.Stats()),
	}
	out := cmd.OutOrStdout()
	if g.jsonOut {
		return printJSON(out, report)
	}
	fmt.Fprintf(out, "%s operations by %d workers in %s (%s ops/s)\n\n",
		humanize.Comma(int64(total)), o.workers, elapsed.Round(time.Millisecond),
		humanize.CommafWithDigits(report.OpsPerSec, 0))
	fmt.Fprintln(out, "After the workload:")
	writeStats(out, settled)
	fmt.Fprintln(out, "\nAfter cleanup:")
	writeStats(out, tl.Stats())
	return nil
}

type liveBlock struct {
	p    unsafe.Pointer
	n    uintptr
	fill byte
}

func stressWorker(ctx context.Context, tl *talloc.Talloc, id int, rng *rand.Rand, ops, maxLive int, maxSize uintptr) error {
	live := make([]liveBlock, 0, maxLive)
	defer func() {
		for _, b := range live {
			tl.Free(b.p)
		}
	}()

	for i := range ops {
		if i%1024 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		size := uintptr(1 + rng.Uint64N(uint64(maxSize)))
		fill := byte(rng.Uint32())
		switch op := rng.IntN(10); {
		case len(live) == 0 || (op < 5 && len(live) < maxLive):
			p := tl.Malloc(size)
			fillBlock(p, size, fill)
			live = append(live, liveBlock{p, size, fill})
		case op < 7:
			j := rng.IntN(len(live))
			if err := verifyBlock(live[j], id); err != nil {
				return err
			}
			p := tl.Realloc(live[j].p, size)
			fillBlock(p, size, fill)
			live[j] = liveBlock{p, size, fill}
		default:
			j := rng.IntN(len(live))
			if err := verifyBlock(live[j], id); err != nil {
				return err
			}
			tl.Free(live[j].p)
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
		}
	}
	return nil
}

func fillBlock(p unsafe.Pointer, n uintptr, c byte) {
	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		b[i] = c
	}
}

func verifyBlock(b liveBlock, worker int) error {
	for i, c := range unsafe.Slice((*byte)(b.p), b.n) {
		if c != b.fill {
			return fmt.Errorf("worker %d: block %p corrupted at offset %d", worker, b.p, i)
		}
	}
	return nil
}

// serveMetrics exposes the allocator's collector over HTTP until the
// returned function is called.
func serveMetrics(tl *talloc.Talloc, addr string) (func(), error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewCollector(tl)); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

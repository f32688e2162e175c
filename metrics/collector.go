// SPDX-License-Identifier: Apache-2.0

// Package metrics exports allocator statistics to Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wundergraph/go-talloc"
)

// Source is anything that can report allocator statistics. *talloc.Talloc
// implements it.
type Source interface {
	Stats() talloc.Stats
}

// Collector is a prometheus.Collector that samples a Source on every scrape.
type Collector struct {
	src Source

	segments    *prometheus.Desc
	allocated   *prometheus.Desc
	used        *prometheus.Desc
	freeBlocks  *prometheus.Desc
	freeBytes   *prometheus.Desc
	largestFree *prometheus.Desc
	memoryLimit *prometheus.Desc
	poolSlabs   *prometheus.Desc
	poolLive    *prometheus.Desc
	poolFree    *prometheus.Desc
}

// Option configures a Collector.
type Option func(*options)

type options struct {
	namespace   string
	constLabels prometheus.Labels
}

// WithNamespace replaces the default "talloc" metric name prefix.
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// WithConstLabels attaches fixed labels to every metric, for telling several
// allocators apart.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(o *options) {
		o.constLabels = labels
	}
}

// NewCollector creates a collector for src.
func NewCollector(src Source, opts ...Option) *Collector {
	o := options{namespace: "talloc"}
	for _, opt := range opts {
		opt(&o)
	}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(o.namespace, "", name), help, labels, o.constLabels)
	}
	return &Collector{
		src:         src,
		segments:    desc("segments", "Segments obtained from the platform."),
		allocated:   desc("allocated_bytes", "Bytes held in segments."),
		used:        desc("used_bytes", "Bytes held by heap blocks in use, pool slabs included."),
		freeBlocks:  desc("free_blocks", "Free heap blocks."),
		freeBytes:   desc("free_bytes", "Total size of the free heap blocks."),
		largestFree: desc("largest_free_block_bytes", "Size of the largest free heap block."),
		memoryLimit: desc("memory_limit_bytes", "Configured cap on segment bytes, zero when unlimited."),
		poolSlabs:   desc("pool_slabs", "Slabs per pool category.", "cell_size"),
		poolLive:    desc("pool_live_cells", "Live cells per pool category.", "cell_size"),
		poolFree:    desc("pool_free_cells", "Free cells per pool category.", "cell_size"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.segments
	ch <- c.allocated
	ch <- c.used
	ch <- c.freeBlocks
	ch <- c.freeBytes
	ch <- c.largestFree
	ch <- c.memoryLimit
	ch <- c.poolSlabs
	ch <- c.poolLive
	ch <- c.poolFree
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	gauge(c.segments, float64(s.Segments))
	gauge(c.allocated, float64(s.Allocated))
	gauge(c.used, float64(s.Used))
	gauge(c.freeBlocks, float64(s.FreeBlocks))
	gauge(c.freeBytes, float64(s.FreeBytes))
	gauge(c.largestFree, float64(s.LargestFree))
	gauge(c.memoryLimit, float64(s.MemoryLimit))
	for _, p := range s.Pools {
		size := strconv.FormatUint(uint64(p.CellSize), 10)
		gauge(c.poolSlabs, float64(p.Slabs), size)
		gauge(c.poolLive, float64(p.Live), size)
		gauge(c.poolFree, float64(p.Free), size)
	}
}

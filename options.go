// SPDX-License-Identifier: Apache-2.0

package talloc

import (
	"fmt"

	"github.com/wundergraph/go-talloc/internal/header"
	"github.com/wundergraph/go-talloc/internal/heap"
	"github.com/wundergraph/go-talloc/internal/platform"
)

// Alignment of every pointer returned by the allocator.
const Alignment = header.Alignment

const (
	DefaultSegmentSize     = heap.DefaultSegmentSize
	DefaultPoolGranularity = 32
	DefaultCellsPerSlab    = 128
	DefaultSmallThreshold  = 2048
)

type config struct {
	segmentSize    uintptr
	granularity    uintptr
	cellsPerSlab   uintptr
	smallThreshold uintptr
	pools          bool
	memChecking    bool
	forceReset     bool
	source         platform.Source
	memoryLimit    int64
	errFn          ErrorFunc
	logger         *Logger
}

func defaultConfig() config {
	return config{
		segmentSize:    DefaultSegmentSize,
		granularity:    DefaultPoolGranularity,
		cellsPerSlab:   DefaultCellsPerSlab,
		smallThreshold: DefaultSmallThreshold,
		pools:          true,
		memChecking:    true,
	}
}

func (c *config) validate() error {
	switch {
	case c.segmentSize == 0:
		return fmt.Errorf("%w: segment size must be positive", ErrInvalidConfig)
	case c.granularity == 0 || c.granularity%Alignment != 0:
		return fmt.Errorf("%w: pool granularity %d is not a multiple of %d", ErrInvalidConfig, c.granularity, Alignment)
	case c.cellsPerSlab == 0:
		return fmt.Errorf("%w: cells per slab must be positive", ErrInvalidConfig)
	case c.smallThreshold == 0 || c.smallThreshold%c.granularity != 0:
		return fmt.Errorf("%w: small threshold %d is not a multiple of the granularity %d", ErrInvalidConfig, c.smallThreshold, c.granularity)
	case c.memoryLimit < 0:
		return fmt.Errorf("%w: negative memory limit", ErrInvalidConfig)
	}
	return nil
}

// Option configures a Talloc.
type Option func(*config)

// WithSegmentSize sets the minimum size of a segment requested from the
// platform. Larger requests get a segment of their own size.
func WithSegmentSize(size int) Option {
	return func(c *config) {
		c.segmentSize = uintptr(max(size, 0))
	}
}

// WithPoolGranularity sets the step between pool cell sizes. It must be a
// multiple of Alignment.
func WithPoolGranularity(n int) Option {
	return func(c *config) {
		c.granularity = uintptr(max(n, 0))
	}
}

// WithCellsPerSlab sets how many cells every slab holds.
func WithCellsPerSlab(n int) Option {
	return func(c *config) {
		c.cellsPerSlab = uintptr(max(n, 0))
	}
}

// WithSmallThreshold sets the largest cell size served by the pools. It must
// be a multiple of the pool granularity.
func WithSmallThreshold(n int) Option {
	return func(c *config) {
		c.smallThreshold = uintptr(max(n, 0))
	}
}

// WithPools toggles the pool engine. Without it every request goes to the
// heap.
func WithPools(enabled bool) Option {
	return func(c *config) {
		c.pools = enabled
	}
}

// WithMemChecking toggles cookie validation on Free and Realloc.
func WithMemChecking(enabled bool) Option {
	return func(c *config) {
		c.memChecking = enabled
	}
}

// WithForceReset enables ForceReset.
func WithForceReset(enabled bool) Option {
	return func(c *config) {
		c.forceReset = enabled
	}
}

// WithGoHeapSegments takes segments from the Go heap instead of anonymous
// mappings.
func WithGoHeapSegments() Option {
	return func(c *config) {
		c.source = platform.GoHeap()
	}
}

// WithMemoryLimit caps the bytes held in segments. Allocations that would
// need more are out of memory.
func WithMemoryLimit(bytes int64) Option {
	return func(c *config) {
		c.memoryLimit = bytes
	}
}

// WithErrorFunc installs the callback invoked before the process terminates
// on a fatal error.
func WithErrorFunc(fn ErrorFunc) Option {
	return func(c *config) {
		c.errFn = fn
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// SPDX-License-Identifier: Apache-2.0

// Package talloc is a general-purpose allocator living above a coarse
// platform primitive. Variable-size requests are served best-fit from a heap
// of coalescing blocks; small requests are served from fixed-size cell pools
// carved out of heap blocks. Every returned pointer carries an integrity
// cookie that is checked when it is freed.
//
// Memory handed out by a Talloc is invisible to the Go garbage collector:
// it must not hold the only reference to a Go-managed object.
package talloc

import (
	"fmt"
	"io"
	"math/bits"
	"sync/atomic"
	"unsafe"

	"github.com/wundergraph/go-talloc/internal/header"
	"github.com/wundergraph/go-talloc/internal/heap"
	"github.com/wundergraph/go-talloc/internal/platform"
	"github.com/wundergraph/go-talloc/internal/pool"
)

// Talloc is an allocator instance. All methods are safe for concurrent use.
type Talloc struct {
	heap      *heap.Heap
	pool      *pool.Pool // nil when pools are disabled
	source    *platform.Limited
	threshold uintptr

	memChecking bool
	forceReset  bool

	errFn  atomic.Pointer[ErrorFunc]
	logger *Logger
}

// New creates an allocator. It acquires no memory until the first
// allocation or Expand.
func New(opts ...Option) (*Talloc, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.source == nil {
		cfg.source = platform.Default()
	}
	if cfg.logger == nil {
		cfg.logger = NoopLogger()
	}

	t := &Talloc{
		source:      platform.WithLimit(cfg.source, cfg.memoryLimit),
		threshold:   cfg.smallThreshold,
		memChecking: cfg.memChecking,
		forceReset:  cfg.forceReset,
		logger:      cfg.logger,
	}
	if cfg.errFn != nil {
		t.errFn.Store(&cfg.errFn)
	}
	t.heap = heap.New(heap.Config{
		Source:      t.source,
		SegmentSize: cfg.segmentSize,
		AllowReset:  cfg.forceReset,
		Fatal:       t.fatal,
		Logger:      cfg.logger.WithEngine("heap").Logger,
	})
	if cfg.pools {
		t.pool = pool.New(pool.Config{
			Heap:         t.heap,
			Granularity:  cfg.granularity,
			CellsPerSlab: cfg.cellsPerSlab,
			Threshold:    cfg.smallThreshold,
			Fatal:        t.fatal,
			Logger:       cfg.logger.WithEngine("pool").Logger,
		})
	}
	return t, nil
}

// pooled reports whether a request of n bytes is served by the pools.
func (t *Talloc) pooled(n uintptr) bool {
	return t.pool != nil && t.pool.CellSize(n) <= t.threshold
}

// ownedByPool reports whether the live pointer p came from the pools.
func (t *Talloc) ownedByPool(p unsafe.Pointer) bool {
	return t.pool != nil && header.Of(p).Size <= t.threshold
}

// validate checks the cookie in front of p when memory checking is on.
func (t *Talloc) validate(p unsafe.Pointer) bool {
	if t.memChecking && !header.Of(p).Live(p) {
		t.fatal(fmt.Errorf("%w: %p", ErrCorrupted, p))
		return false
	}
	return true
}

// Malloc returns a pointer to at least size bytes aligned to Alignment, or
// nil when size is zero. The memory is not zeroed.
func (t *Talloc) Malloc(size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}
	if t.pooled(size) {
		return t.pool.Alloc(size)
	}
	return t.heap.Alloc(size)
}

// Calloc returns zeroed memory for count elements of size bytes each.
func (t *Talloc) Calloc(count, size uintptr) unsafe.Pointer {
	hi, n := bits.Mul(uint(count), uint(size))
	if hi != 0 {
		t.fatal(fmt.Errorf("%w: %d elements of %d bytes", ErrSizeOverflow, count, size))
		return nil
	}
	p := t.Malloc(uintptr(n))
	if p != nil {
		clear(unsafe.Slice((*byte)(p), n))
	}
	return p
}

// Realloc resizes the allocation behind p. A nil p behaves like Malloc and a
// zero size frees p and returns nil. Otherwise the contents always move to a
// new allocation routed like Malloc(size), truncated to size, and p is freed.
func (t *Talloc) Realloc(p unsafe.Pointer, size uintptr) unsafe.Pointer {
	if p == nil {
		return t.Malloc(size)
	}
	if size == 0 {
		t.Free(p)
		return nil
	}
	if !t.validate(p) {
		return nil
	}
	old := t.usableSize(p)
	q := t.Malloc(size)
	if q == nil {
		return nil
	}
	copy(unsafe.Slice((*byte)(q), size), unsafe.Slice((*byte)(p), min(old, size)))
	t.Free(p)
	return q
}

// Free releases memory obtained from Malloc, Calloc or Realloc. Freeing nil
// does nothing; freeing anything else twice is fatal.
func (t *Talloc) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	if !t.validate(p) {
		return
	}
	if t.ownedByPool(p) {
		t.pool.Free(p)
		return
	}
	t.heap.Free(p)
}

// UsableSize returns how many bytes the live allocation p can hold, which
// may exceed the size it was requested with.
func (t *Talloc) UsableSize(p unsafe.Pointer) uintptr {
	if p == nil {
		return 0
	}
	if !t.validate(p) {
		return 0
	}
	return t.usableSize(p)
}

func (t *Talloc) usableSize(p unsafe.Pointer) uintptr {
	if t.ownedByPool(p) {
		return pool.UsableSize(p)
	}
	return heap.UsableSize(p)
}

// Expand acquires a segment of at least size bytes ahead of demand.
func (t *Talloc) Expand(size uintptr) {
	t.heap.Expand(size)
}

// Print writes the table of free heap blocks to w.
func (t *Talloc) Print(w io.Writer) error {
	return t.heap.Print(w)
}

// Optimize returns the slabs of every pool category without live cells to
// the heap.
func (t *Talloc) Optimize() {
	if t.pool != nil {
		t.pool.Optimize()
	}
}

// Allocated returns the bytes held in segments.
func (t *Talloc) Allocated() uintptr {
	return t.heap.Allocated()
}

// Used returns the bytes held by heap blocks in use, pool slabs included.
func (t *Talloc) Used() uintptr {
	return t.heap.Used()
}

// SetErrorFunc replaces the fatal error callback. A nil fn removes it.
func (t *Talloc) SetErrorFunc(fn ErrorFunc) {
	if fn == nil {
		t.errFn.Store(nil)
		return
	}
	t.errFn.Store(&fn)
}

// ForceReset returns every segment to the platform and starts over empty.
// Every pointer obtained before is invalid afterwards, and no other call may
// run concurrently with it. It fails with ErrResetDisabled unless the
// allocator was created with WithForceReset(true).
func (t *Talloc) ForceReset() error {
	if !t.forceReset {
		return ErrResetDisabled
	}
	if t.pool != nil {
		t.pool.Reset()
	}
	return t.heap.ForceReset()
}

// Check verifies the heap's internal invariants. It is expensive and meant
// for tests and diagnostics.
func (t *Talloc) Check() error {
	return t.heap.Check()
}

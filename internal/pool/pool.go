// SPDX-License-Identifier: Apache-2.0

// Package pool is the small-object engine of the allocator. Requests are
// rounded up to a cell size, each cell size has its own category, and a
// category carves slabs obtained from the heap engine into cells kept on an
// intrusive free list.
package pool

import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/wundergraph/go-talloc/internal/align"
	"github.com/wundergraph/go-talloc/internal/fault"
	"github.com/wundergraph/go-talloc/internal/header"
)

// SlabHeaderSize is the room reserved at the start of every slab for the
// link to the next slab of the category. It keeps the first cell payload on
// an alignment boundary.
const SlabHeaderSize = (header.WordSize+header.TagSize+header.Alignment-1)&^(header.Alignment-1) - header.TagSize

// Heap is the backing engine slabs are taken from.
type Heap interface {
	Alloc(n uintptr) unsafe.Pointer
	Free(p unsafe.Pointer)
}

// Config configures a Pool. The caller guarantees that Granularity is a
// multiple of header.Alignment and Threshold a multiple of Granularity.
type Config struct {
	Heap         Heap
	Granularity  uintptr
	CellsPerSlab uintptr
	Threshold    uintptr
	// Fatal receives unrecoverable errors. Defaults to panicking.
	Fatal  fault.Func
	Logger *slog.Logger
}

type category struct {
	mu     sync.Mutex
	head   uintptr // first free cell payload
	slabs  uintptr // most recent slab
	nslabs int
	live   int
}

// Pool hands out fixed-size cells grouped by size category.
type Pool struct {
	cats         []category
	heap         Heap
	granularity  uintptr
	cellsPerSlab uintptr
	threshold    uintptr
	fatal        fault.Func
	logger       *slog.Logger
}

// New creates a pool with one empty category per cell size up to the
// threshold.
func New(cfg Config) *Pool {
	p := &Pool{
		cats:         make([]category, cfg.Threshold/cfg.Granularity),
		heap:         cfg.Heap,
		granularity:  cfg.Granularity,
		cellsPerSlab: cfg.CellsPerSlab,
		threshold:    cfg.Threshold,
		fatal:        cfg.Fatal,
		logger:       cfg.Logger,
	}
	if p.fatal == nil {
		p.fatal = func(err error) { panic(err) }
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// CellSize returns the cell size serving a request of n bytes: room for the
// tag and at least one word of payload, rounded up to the granularity.
func (p *Pool) CellSize(n uintptr) uintptr {
	if n > ^uintptr(0)-header.TagSize-p.granularity {
		return ^uintptr(0)
	}
	return align.UpMult(max(n, header.WordSize)+header.TagSize, p.granularity)
}

// Threshold is the largest cell size the pool serves.
func (p *Pool) Threshold() uintptr {
	return p.threshold
}

func (p *Pool) category(cellSize uintptr) *category {
	idx := cellSize/p.granularity - 1
	if cellSize == 0 || cellSize%p.granularity != 0 || idx >= uintptr(len(p.cats)) {
		p.fatal(fmt.Errorf("%w: cell size %d", fault.ErrCategoryOverflow, cellSize))
		return nil
	}
	return &p.cats[idx]
}

// Alloc returns a cell with room for n bytes.
func (p *Pool) Alloc(n uintptr) unsafe.Pointer {
	size := p.CellSize(n)
	c := p.category(size)
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.head == 0 && !p.grow(c, size) {
		return nil
	}
	cell := unsafe.Pointer(c.head) //nolint:govet // cell payload inside a slab
	tag := header.Of(cell)
	if tag.Cookie != ^c.head || tag.Size != size {
		p.fatal(fmt.Errorf("%w: free cell %p of category %d", fault.ErrCorrupted, cell, size))
		return nil
	}
	c.head = *(*uintptr)(cell)
	tag.Cookie = uintptr(cell)
	c.live++
	return cell
}

// grow takes a slab from the heap and threads its cells onto the free list.
func (p *Pool) grow(c *category, size uintptr) bool {
	slab := p.heap.Alloc(p.cellsPerSlab*size + SlabHeaderSize)
	if slab == nil {
		return false
	}
	*(*uintptr)(slab) = c.slabs
	c.slabs = uintptr(slab)
	c.nslabs++

	first := unsafe.Add(slab, SlabHeaderSize+header.TagSize)
	for i := p.cellsPerSlab; i > 0; i-- {
		cell := unsafe.Add(first, (i-1)*size)
		*header.Of(cell) = header.Tag{Cookie: ^uintptr(cell), Size: size}
		*(*uintptr)(cell) = c.head
		c.head = uintptr(cell)
	}

	p.logger.Debug("pool slab acquired",
		slog.Uint64("cell_size", uint64(size)),
		slog.Int("slabs", c.nslabs))
	return true
}

// Free puts the cell ptr back on its category's free list.
func (p *Pool) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	tag := header.Of(ptr)
	c := p.category(tag.Size)
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !tag.Live(ptr) {
		p.fatal(fmt.Errorf("%w: pool cell %p", fault.ErrCorrupted, ptr))
		return
	}
	tag.Cookie = ^uintptr(ptr)
	*(*uintptr)(ptr) = c.head
	c.head = uintptr(ptr)
	c.live--
}

// UsableSize returns the payload capacity of the live cell behind ptr.
func UsableSize(ptr unsafe.Pointer) uintptr {
	return header.Of(ptr).Size - header.TagSize
}

// Optimize returns every slab of each category without live cells to the
// heap. Categories are visited one at a time, so a concurrent allocation
// only ever waits for its own category.
func (p *Pool) Optimize() {
	for i := range p.cats {
		c := &p.cats[i]
		c.mu.Lock()
		if c.live == 0 && c.slabs != 0 {
			n := c.nslabs
			for s := c.slabs; s != 0; {
				slab := unsafe.Pointer(s) //nolint:govet // slab payload owned by the heap
				s = *(*uintptr)(slab)
				p.heap.Free(slab)
			}
			c.head, c.slabs, c.nslabs = 0, 0, 0
			p.logger.Debug("pool category reclaimed",
				slog.Uint64("cell_size", uint64(uintptr(i+1)*p.granularity)),
				slog.Int("slabs", n))
		}
		c.mu.Unlock()
	}
}

// Reset forgets every slab without returning it to the heap. It is meant to
// follow a reset of the heap itself.
func (p *Pool) Reset() {
	for i := range p.cats {
		c := &p.cats[i]
		c.mu.Lock()
		c.head, c.slabs, c.nslabs, c.live = 0, 0, 0, 0
		c.mu.Unlock()
	}
}

// CategoryStats describes one size category.
type CategoryStats struct {
	CellSize uintptr
	Slabs    int
	Live     int
	Free     int
}

// Stats returns the categories that currently own at least one slab.
func (p *Pool) Stats() []CategoryStats {
	var out []CategoryStats
	for i := range p.cats {
		c := &p.cats[i]
		c.mu.Lock()
		if c.nslabs > 0 {
			total := c.nslabs * int(p.cellsPerSlab)
			out = append(out, CategoryStats{
				CellSize: uintptr(i+1) * p.granularity,
				Slabs:    c.nslabs,
				Live:     c.live,
				Free:     total - c.live,
			})
		}
		c.mu.Unlock()
	}
	return out
}

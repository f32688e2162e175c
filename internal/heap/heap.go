// SPDX-License-Identifier: Apache-2.0

// Package heap is the variable-size engine of the allocator. It carves large
// segments into blocks, keeps every block in an address-ordered list for
// coalescing and every free block in a size-ordered AVL tree for best-fit
// search. All state is guarded by a single mutex.
package heap

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/wundergraph/go-talloc/internal/align"
	"github.com/wundergraph/go-talloc/internal/fault"
	"github.com/wundergraph/go-talloc/internal/header"
	"github.com/wundergraph/go-talloc/internal/platform"
)

// DefaultSegmentSize is the smallest segment requested from the source.
const DefaultSegmentSize = 4 << 20

// Config configures a Heap.
type Config struct {
	// Source supplies segments. Defaults to platform.Default().
	Source platform.Source
	// SegmentSize is the minimum size of a new segment.
	SegmentSize uintptr
	// AllowReset enables ForceReset.
	AllowReset bool
	// Fatal receives unrecoverable errors. Defaults to panicking.
	Fatal fault.Func
	// Logger receives debug events. Defaults to discarding them.
	Logger *slog.Logger
}

// Heap is the block engine.
type Heap struct {
	mu       sync.Mutex
	list     addrList
	tree     sizeTree
	segments [][]byte

	allocated uintptr
	used      uintptr
	free      int // blocks in the tree

	src         platform.Source
	segmentSize uintptr
	allowReset  bool
	fatal       fault.Func
	logger      *slog.Logger
}

// New creates an empty heap. No memory is acquired until the first
// allocation or Expand.
func New(cfg Config) *Heap {
	h := &Heap{
		src:         cfg.Source,
		segmentSize: align.Up(cfg.SegmentSize, header.Alignment),
		allowReset:  cfg.AllowReset,
		fatal:       cfg.Fatal,
		logger:      cfg.Logger,
	}
	if h.src == nil {
		h.src = platform.Default()
	}
	if h.segmentSize == 0 {
		h.segmentSize = DefaultSegmentSize
	}
	if h.segmentSize < freeHeaderSize {
		h.segmentSize = freeHeaderSize
	}
	if h.fatal == nil {
		h.fatal = func(err error) { panic(err) }
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	return h
}

// required returns the block size needed to serve n payload bytes.
func required(n uintptr) (uintptr, bool) {
	if n > ^uintptr(0)-usedHeaderSize-header.Alignment {
		return 0, false
	}
	size := align.Up(n+usedHeaderSize, header.Alignment)
	if size < freeHeaderSize {
		size = freeHeaderSize
	}
	return size, true
}

// Alloc returns a payload of at least n bytes aligned to header.Alignment.
func (h *Heap) Alloc(n uintptr) unsafe.Pointer {
	size, ok := required(n)
	if !ok {
		h.fatal(fmt.Errorf("%w: request of %d bytes", fault.ErrOutOfMemory, n))
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	b := h.tree.bestFit(size)
	if b == nil {
		if !h.grow(size) {
			return nil
		}
		b = h.tree.bestFit(size)
	}
	return h.allocate(b, size)
}

// allocate awards size bytes of the free block b, splitting off the tail
// when it can stand on its own as a free block.
func (h *Heap) allocate(b *block, size uintptr) unsafe.Pointer {
	h.tree.remove(b)
	h.free--

	if rem := b.size() - size; rem > freeHeaderSize {
		tail := at(b.addr() + size)
		tail.markFree(rem)
		h.list.link(b.addr(), b.next, tail)
		h.tree.insert(tail)
		h.free++
		b.tag.Size = size
	}

	h.used += b.size()
	return b.markUsed()
}

// Free returns the block behind p to the heap, merging it with free
// neighbours that are adjacent in memory.
func (h *Heap) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	b := fromPayload(p)

	h.mu.Lock()
	defer h.mu.Unlock()

	if b.state != stateUsed || !b.tag.Live(p) {
		h.fatal(fmt.Errorf("%w: heap block %p", fault.ErrCorrupted, p))
		return
	}
	h.used -= b.size()
	h.release(b)
}

func (h *Heap) release(b *block) {
	b.markFree(b.size())

	if next := h.list.mergeableNext(b); next != nil {
		h.tree.remove(next)
		h.free--
		h.list.unlink(next)
		b.tag.Size += next.size()
		next.state = 0
	}
	if prev := h.list.mergeablePrev(b); prev != nil {
		h.tree.remove(prev)
		h.free--
		h.list.unlink(b)
		prev.tag.Size += b.size()
		b.state = 0
		b = prev
	}

	h.tree.insert(b)
	h.free++
}

// grow acquires a segment large enough for size bytes and adds it to both
// indexes. It reports false after raising a fatal error.
func (h *Heap) grow(size uintptr) bool {
	size = align.Up(max(size, h.segmentSize), header.Alignment)
	mem, err := h.src.Acquire(size)
	if err != nil {
		h.fatal(fmt.Errorf("%w: segment of %d bytes: %w", fault.ErrOutOfMemory, size, err))
		return false
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
	if !align.IsAligned(base, header.Alignment) || uintptr(len(mem)) != size {
		h.fatal(fmt.Errorf("%w: segment source returned a misaligned segment", fault.ErrCorrupted))
		return false
	}

	b := at(base)
	b.markFree(size)
	h.list.insertSorted(b)
	h.tree.insert(b)
	h.free++
	h.segments = append(h.segments, mem)
	h.allocated += size

	h.logger.Debug("heap segment acquired",
		slog.Uint64("size", uint64(size)),
		slog.Int("segments", len(h.segments)),
		slog.Uint64("allocated", uint64(h.allocated)))
	return true
}

// Expand eagerly adds a segment of at least n bytes, never less than the
// configured segment size.
func (h *Heap) Expand(n uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.grow(n)
}

// Allocated returns the bytes held in segments.
func (h *Heap) Allocated() uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocated
}

// Used returns the bytes held by blocks in use, headers included.
func (h *Heap) Used() uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

// UsableSize returns the payload capacity of the live block behind p.
func UsableSize(p unsafe.Pointer) uintptr {
	return fromPayload(p).size() - usedHeaderSize
}

// Stats describes the heap at one point in time.
type Stats struct {
	Segments    int
	Allocated   uintptr
	Used        uintptr
	FreeBlocks  int
	FreeBytes   uintptr
	LargestFree uintptr
}

// Stats returns a snapshot of the heap counters.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Stats{
		Segments:   len(h.segments),
		Allocated:  h.allocated,
		Used:       h.used,
		FreeBlocks: h.free,
	}
	h.list.each(func(b *block) {
		if b.isFree() {
			s.FreeBytes += b.size()
		}
	})
	if b := h.tree.largest(); b != nil {
		s.LargestFree = b.size()
	}
	return s
}

// ForceReset hands every segment back to the source and forgets all blocks.
// No pointer obtained from the heap may be used afterwards.
func (h *Heap) ForceReset() error {
	if !h.allowReset {
		return fault.ErrResetDisabled
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for _, mem := range h.segments {
		if err := h.src.Release(mem); err != nil {
			errs = append(errs, err)
		}
	}
	h.logger.Info("heap reset",
		slog.Int("segments", len(h.segments)),
		slog.Uint64("released", uint64(h.allocated)))

	h.segments = nil
	h.list = addrList{}
	h.tree = sizeTree{}
	h.allocated, h.used, h.free = 0, 0, 0
	return errors.Join(errs...)
}

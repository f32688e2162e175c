// SPDX-License-Identifier: Apache-2.0

package talloc

import (
	"sync"
	"unsafe"

	"github.com/wundergraph/go-talloc/internal/align"
)

// DefaultChunkSize is the chunk size of a Region created without
// WithChunkSize.
const DefaultChunkSize = 32 << 10

// Region is a bump allocator carving its chunks out of a Talloc. Individual
// allocations are never freed; the whole region is rewound with Reset or
// handed back with Release. A Region is safe for concurrent use.
type Region struct {
	mu         sync.Mutex
	t          *Talloc
	chunks     []chunk
	peak       uintptr
	chunkSize  uintptr
	initChunks int
}

type chunk struct {
	ptr    unsafe.Pointer // nil until first use
	offset uintptr
	size   uintptr
}

// RegionOption configures a Region.
type RegionOption func(*Region)

// WithChunkSize sets the minimum chunk size. Allocations larger than it get
// a chunk of their own.
func WithChunkSize(size int) RegionOption {
	return func(r *Region) {
		if size > 0 {
			r.chunkSize = uintptr(size)
		}
	}
}

// WithInitialChunks sets how many chunks the region starts with. They are
// obtained from the allocator lazily.
func WithInitialChunks(n int) RegionOption {
	return func(r *Region) {
		r.initChunks = max(n, 0)
	}
}

// NewRegion creates a region backed by t.
func NewRegion(t *Talloc, opts ...RegionOption) *Region {
	r := &Region{
		t:          t,
		chunkSize:  DefaultChunkSize,
		initChunks: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.chunks = make([]chunk, r.initChunks)
	for i := range r.chunks {
		r.chunks[i].size = r.chunkSize
	}
	return r
}

// bump reserves size bytes at alignment inside c, taking the chunk's memory
// from the allocator on first use.
func (r *Region) bump(c *chunk, size, alignment uintptr) (unsafe.Pointer, bool) {
	if c.ptr == nil {
		if size > c.size {
			return nil, false
		}
		c.ptr = r.t.Malloc(c.size)
		if c.ptr == nil {
			return nil, false
		}
	}
	pad := align.Adjustment(uintptr(c.ptr)+c.offset, alignment)
	if c.size-c.offset < size+pad {
		return nil, false
	}
	ptr := unsafe.Add(c.ptr, c.offset+pad)
	c.offset += size + pad
	clear(unsafe.Slice((*byte)(ptr), size))
	return ptr, true
}

// Alloc satisfies the Arena interface.
func (r *Region) Alloc(size, alignment uintptr) unsafe.Pointer {
	if alignment == 0 {
		alignment = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.chunks {
		if ptr, ok := r.bump(&r.chunks[i], size, alignment); ok {
			r.peak = max(r.peak, r.len())
			return ptr
		}
	}

	// room for the worst-case alignment pad
	r.chunks = append(r.chunks, chunk{size: max(r.chunkSize, size+alignment)})
	ptr, ok := r.bump(&r.chunks[len(r.chunks)-1], size, alignment)
	if !ok {
		r.chunks = r.chunks[:len(r.chunks)-1]
		return nil
	}
	r.peak = max(r.peak, r.len())
	return ptr
}

// Reset satisfies the Arena interface. Chunks stay with the region.
func (r *Region) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.chunks {
		r.chunks[i].offset = 0
	}
}

// Release satisfies the Arena interface. Every chunk is freed back to the
// allocator.
func (r *Region) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.chunks {
		r.t.Free(r.chunks[i].ptr)
	}
	r.chunks = nil
}

func (r *Region) resetPeak() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peak = 0
}

// Len satisfies the Arena interface.
func (r *Region) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.len())
}

func (r *Region) len() uintptr {
	var n uintptr
	for _, c := range r.chunks {
		n += c.offset
	}
	return n
}

// Cap satisfies the Arena interface.
func (r *Region) Cap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n uintptr
	for _, c := range r.chunks {
		n += c.size
	}
	return int(n)
}

// Peak satisfies the Arena interface.
func (r *Region) Peak() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.peak)
}

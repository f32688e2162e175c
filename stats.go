// SPDX-License-Identifier: Apache-2.0

package talloc

// Stats is a snapshot of the allocator.
type Stats struct {
	// Segments is the number of segments taken from the platform.
	Segments int
	// Allocated is the bytes held in segments.
	Allocated uintptr
	// Used is the bytes held by heap blocks in use, headers and slabs included.
	Used uintptr
	// FreeBlocks is the number of free heap blocks.
	FreeBlocks int
	// FreeBytes is the total size of the free heap blocks.
	FreeBytes uintptr
	// LargestFree is the size of the largest free heap block.
	LargestFree uintptr
	// MemoryLimit is the configured cap on segment bytes, zero when unlimited.
	MemoryLimit int64
	// Pools lists the pool categories that own slabs, by ascending cell size.
	Pools []PoolStats
}

// PoolStats describes one pool category.
type PoolStats struct {
	CellSize uintptr
	Slabs    int
	Live     int
	Free     int
}

// Stats returns a snapshot of the allocator. The heap and the pools are
// sampled one after the other, so the figures may be slightly apart under
// concurrent use.
func (t *Talloc) Stats() Stats {
	hs := t.heap.Stats()
	s := Stats{
		Segments:    hs.Segments,
		Allocated:   hs.Allocated,
		Used:        hs.Used,
		FreeBlocks:  hs.FreeBlocks,
		FreeBytes:   hs.FreeBytes,
		LargestFree: hs.LargestFree,
		MemoryLimit: t.source.Limit(),
	}
	if t.pool != nil {
		for _, c := range t.pool.Stats() {
			s.Pools = append(s.Pools, PoolStats{
				CellSize: c.CellSize,
				Slabs:    c.Slabs,
				Live:     c.Live,
				Free:     c.Free,
			})
		}
	}
	return s
}

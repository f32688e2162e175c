// SPDX-License-Identifier: Apache-2.0

package talloc

import (
	"sync"
	"weak"
)

const (
	// peakWindow is the number of releases averaged per key before the
	// running total is folded into a single sample.
	peakWindow = 50
	// defaultPooledChunkSize sizes the chunks of regions for unseen keys.
	defaultPooledChunkSize = 1 << 20
)

// RegionPool recycles Region values for recurring workloads. Idle regions are
// held through weak pointers, so the garbage collector may drop them under
// pressure. Per key, the pool remembers how much memory past regions peaked
// at and sizes the chunks of the next region accordingly.
//
// A released region has already handed its chunks back to the allocator, so
// dropping it never leaks allocator memory.
type RegionPool struct {
	t     *Talloc
	mu    sync.Mutex
	idle  []weak.Pointer[PooledRegion]
	peaks map[uint64]*peakSample
}

type peakSample struct {
	count      int
	totalBytes int
}

// PooledRegion is a region on loan from a RegionPool.
type PooledRegion struct {
	*Region
	Key uint64
}

// NewRegionPool creates a pool of regions backed by t.
func NewRegionPool(t *Talloc) *RegionPool {
	return &RegionPool{
		t:     t,
		peaks: make(map[uint64]*peakSample),
	}
}

// Acquire returns an idle region or a new one, sized for key.
func (p *RegionPool) Acquire(key uint64) *PooledRegion {
	p.mu.Lock()
	defer p.mu.Unlock()

	size := p.chunkSize(key)
	for len(p.idle) > 0 {
		last := len(p.idle) - 1
		wp := p.idle[last]
		p.idle = p.idle[:last]

		if item := wp.Value(); item != nil {
			item.Key = key
			item.chunkSize = uintptr(size)
			return item
		}
	}
	return &PooledRegion{
		Region: NewRegion(p.t, WithChunkSize(size), WithInitialChunks(0)),
		Key:    key,
	}
}

// Release frees the region's memory, records its peak under its key and
// makes it available to Acquire again.
func (p *RegionPool) Release(item *PooledRegion) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.release(item)
}

// ReleaseMany is Release for a batch under a single lock.
func (p *RegionPool) ReleaseMany(items []*PooledRegion) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, item := range items {
		p.release(item)
	}
}

func (p *RegionPool) release(item *PooledRegion) {
	peak := item.Peak()
	item.Release()

	if s, ok := p.peaks[item.Key]; ok {
		if s.count == peakWindow {
			s.count = 1
			s.totalBytes /= peakWindow
		}
		s.count++
		s.totalBytes += peak
	} else {
		p.peaks[item.Key] = &peakSample{count: 1, totalBytes: peak}
	}

	item.Key = 0
	item.resetPeak()
	p.idle = append(p.idle, weak.Make(item))
}

// chunkSize returns the average peak recorded for key.
func (p *RegionPool) chunkSize(key uint64) int {
	if s, ok := p.peaks[key]; ok && s.totalBytes > 0 {
		return s.totalBytes / s.count
	}
	return defaultPooledChunkSize
}

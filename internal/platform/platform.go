// SPDX-License-Identifier: Apache-2.0

// Package platform supplies the coarse memory segments the heap engine carves
// into blocks. A segment is requested once and handed back only when the
// allocator is force-reset.
package platform

import (
	"errors"
	"unsafe"

	"github.com/wundergraph/go-talloc/internal/align"
	"github.com/wundergraph/go-talloc/internal/header"
)

var (
	// ErrLimitExceeded is returned when a segment would push the source past
	// its configured memory limit.
	ErrLimitExceeded = errors.New("platform: memory limit exceeded")
	// ErrInvalidSize is returned for zero or negative segment sizes.
	ErrInvalidSize = errors.New("platform: invalid segment size")
)

// Source hands out segments of raw memory. Every segment returned by Acquire
// starts at a header.Alignment boundary and is exactly size bytes long.
type Source interface {
	Acquire(size uintptr) ([]byte, error)
	Release(mem []byte) error
}

// Default returns the platform's preferred source: anonymous mappings where
// the OS supports them, the Go heap otherwise.
func Default() Source {
	return defaultSource()
}

type goHeap struct{}

// GoHeap returns a Source backed by Go heap allocations. The memory holds no
// Go pointers, so the garbage collector never scans it; callers must keep the
// returned slices reachable for as long as the segment is in use.
func GoHeap() Source {
	return goHeap{}
}

func (goHeap) Acquire(size uintptr) ([]byte, error) {
	if size == 0 || int(size) < 0 {
		return nil, ErrInvalidSize
	}
	buf := make([]byte, size+header.Alignment)
	adj := align.Adjustment(uintptr(unsafe.Pointer(unsafe.SliceData(buf))), header.Alignment)
	return buf[adj : adj+size : adj+size], nil
}

func (goHeap) Release([]byte) error {
	return nil
}

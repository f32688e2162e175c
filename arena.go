// SPDX-License-Identifier: Apache-2.0

package talloc

import (
	"unsafe"
)

// Arena is an allocation scope whose memory is reclaimed as a whole.
type Arena interface {
	// Alloc returns size zeroed bytes aligned to alignment, which must be a
	// power of two.
	Alloc(size, alignment uintptr) unsafe.Pointer

	// Reset invalidates every pointer handed out so far and makes the memory
	// available to the arena again.
	Reset()

	// Release hands the arena's memory back. The arena must not be used
	// afterwards.
	Release()

	// Len returns the bytes handed out since the last Reset.
	Len() int

	// Cap returns the bytes the arena holds.
	Cap() int

	// Peak returns the highest Len observed. Reset does not clear it.
	Peak() int
}

// Allocate returns a zeroed *T from a, or from the Go heap when a is nil.
// T must not contain Go pointers when a is backed by a Talloc: that memory
// is not scanned by the garbage collector.
func Allocate[T any](a Arena) *T {
	if a != nil {
		var x T
		if ptr := a.Alloc(unsafe.Sizeof(x), unsafe.Alignof(x)); ptr != nil {
			return (*T)(ptr)
		}
	}
	return new(T)
}

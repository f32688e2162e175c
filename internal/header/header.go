// SPDX-License-Identifier: Apache-2.0

// Package header describes the integrity tag both allocator engines keep
// directly in front of every pointer they return.
package header

import "unsafe"

// Alignment of every payload pointer handed out by the allocator.
const Alignment = uintptr(16)

// WordSize is the size of a machine pointer.
const WordSize = unsafe.Sizeof(uintptr(0))

// Tag is the trailing part of every allocation header. Cookie holds the
// payload address while the block is live; Size holds the engine's size for
// the block (block size for the heap, cell size for pools).
type Tag struct {
	Cookie uintptr
	Size   uintptr
}

// TagSize is the number of bytes a Tag occupies.
const TagSize = unsafe.Sizeof(Tag{})

// Of returns the tag stored immediately before p.
func Of(p unsafe.Pointer) *Tag {
	return (*Tag)(unsafe.Add(p, -int(TagSize)))
}

// Live reports whether the tag carries the live cookie for p.
func (t *Tag) Live(p unsafe.Pointer) bool {
	return t.Cookie == uintptr(p)
}

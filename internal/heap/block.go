// SPDX-License-Identifier: Apache-2.0

package heap

import (
	"unsafe"

	"github.com/wundergraph/go-talloc/internal/header"
)

type blockState uintptr

const (
	stateFree blockState = 0xf4ee
	stateUsed blockState = 0x05ed
)

// padWords keeps the tag flush against the payload and the payload aligned.
const padWords = ((header.Alignment - (5*header.WordSize)%header.Alignment) % header.Alignment) / header.WordSize

// prefix is the part of a block header that is valid in both states. Used
// blocks carry only this much; the payload starts right after it.
type prefix struct {
	prev  uintptr // address order
	next  uintptr
	state blockState
	_     [padWords]uintptr
	tag   header.Tag
}

// links hold the size-tree position of a free block. They overlap the payload
// of a used block.
type links struct {
	left   uintptr
	right  uintptr
	height int
}

// block is the header of every heap block. The links are only meaningful
// while state is stateFree and must be reached through tree().
type block struct {
	prefix
	links links
}

const (
	usedHeaderSize = unsafe.Sizeof(prefix{})
	freeHeaderSize = (unsafe.Sizeof(block{}) + header.Alignment - 1) &^ (header.Alignment - 1)
)

// HeaderSize is the per-allocation overhead of the heap engine.
const HeaderSize = usedHeaderSize

// MinBlockSize is the smallest block the heap ever hands out or keeps free.
const MinBlockSize = freeHeaderSize

func at(addr uintptr) *block {
	return (*block)(unsafe.Pointer(addr)) //nolint:govet // addr points into a segment owned by the heap
}

func fromPayload(p unsafe.Pointer) *block {
	return (*block)(unsafe.Add(p, -int(usedHeaderSize)))
}

func (b *block) addr() uintptr {
	return uintptr(unsafe.Pointer(b))
}

func (b *block) size() uintptr {
	return b.tag.Size
}

func (b *block) end() uintptr {
	return b.addr() + b.tag.Size
}

func (b *block) isFree() bool {
	return b.state == stateFree
}

func (b *block) payload() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(b), usedHeaderSize)
}

// tree returns the size-tree links of a free block.
func (b *block) tree() *links {
	if b.state != stateFree {
		panic("heap: tree links requested for a block in use")
	}
	return &b.links
}

// markFree turns b into a free block of the given size that is not yet part
// of the tree.
func (b *block) markFree(size uintptr) {
	b.state = stateFree
	b.tag = header.Tag{Size: size}
	b.links = links{height: 1}
}

// markUsed stamps b as in use and returns its payload.
func (b *block) markUsed() unsafe.Pointer {
	b.state = stateUsed
	p := b.payload()
	b.tag.Cookie = uintptr(p)
	return p
}

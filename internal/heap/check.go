// SPDX-License-Identifier: Apache-2.0

package heap

import (
	"errors"
	"fmt"
)

var errInconsistent = errors.New("heap: inconsistent state")

// Check walks both indexes and verifies that they agree with each other and
// with the counters. It is meant for tests and diagnostics; it holds the heap
// lock for the whole walk.
func (h *Heap) Check() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var (
		prev            uintptr
		total, used     uintptr
		freeInList      int
		freeBlocksByAdr = make(map[uintptr]struct{})
	)
	for cur := h.list.first; cur != 0; cur = at(cur).next {
		b := at(cur)
		if cur <= prev {
			return fmt.Errorf("%w: address list out of order at %#x", errInconsistent, cur)
		}
		if b.prev != prev {
			return fmt.Errorf("%w: block %#x has prev %#x, want %#x", errInconsistent, cur, b.prev, prev)
		}
		if prev != 0 && at(prev).end() > cur {
			return fmt.Errorf("%w: block %#x overlaps its predecessor", errInconsistent, cur)
		}
		switch b.state {
		case stateFree:
			freeInList++
			freeBlocksByAdr[cur] = struct{}{}
		case stateUsed:
			used += b.size()
			if !b.tag.Live(b.payload()) {
				return fmt.Errorf("%w: block %#x has a stale cookie", errInconsistent, cur)
			}
		default:
			return fmt.Errorf("%w: block %#x has unknown state %#x", errInconsistent, cur, b.state)
		}
		if b.size() < freeHeaderSize {
			return fmt.Errorf("%w: block %#x is smaller than a free header", errInconsistent, cur)
		}
		total += b.size()
		prev = cur
	}
	if total != h.allocated {
		return fmt.Errorf("%w: blocks cover %d bytes, %d allocated", errInconsistent, total, h.allocated)
	}
	if used != h.used {
		return fmt.Errorf("%w: used blocks hold %d bytes, counter says %d", errInconsistent, used, h.used)
	}
	if freeInList != h.free {
		return fmt.Errorf("%w: %d free blocks listed, counter says %d", errInconsistent, freeInList, h.free)
	}

	inTree := 0
	var last uintptr
	var err error
	h.tree.walk(func(b *block, _ int) bool {
		inTree++
		if _, ok := freeBlocksByAdr[b.addr()]; !ok {
			err = fmt.Errorf("%w: tree holds %#x which is not a listed free block", errInconsistent, b.addr())
			return false
		}
		if b.size() < last {
			err = fmt.Errorf("%w: tree out of order at %#x", errInconsistent, b.addr())
			return false
		}
		last = b.size()
		l := b.tree()
		if bf := height(l.left) - height(l.right); bf < -1 || bf > 1 {
			err = fmt.Errorf("%w: node %#x has balance %d", errInconsistent, b.addr(), bf)
			return false
		}
		if l.height != 1+max(height(l.left), height(l.right)) {
			err = fmt.Errorf("%w: node %#x has stale height", errInconsistent, b.addr())
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if inTree != freeInList {
		return fmt.Errorf("%w: %d blocks in tree, %d free blocks listed", errInconsistent, inTree, freeInList)
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0

package heap

// addrList is the doubly linked list of every block, free or used, in
// ascending address order. Blocks from different segments interleave, so list
// neighbours are only merge candidates.
type addrList struct {
	first uintptr
}

func (l *addrList) link(prev, next uintptr, b *block) {
	b.prev, b.next = prev, next
	if prev != 0 {
		at(prev).next = b.addr()
	} else {
		l.first = b.addr()
	}
	if next != 0 {
		at(next).prev = b.addr()
	}
}

func (l *addrList) insertSorted(b *block) {
	var prev uintptr
	cur := l.first
	for cur != 0 && b.addr() > cur {
		if at(cur).next == cur {
			panic("heap: address list corrupted")
		}
		prev, cur = cur, at(cur).next
	}
	l.link(prev, cur, b)
}

func (l *addrList) unlink(b *block) {
	if b.prev != 0 {
		at(b.prev).next = b.next
	} else {
		l.first = b.next
	}
	if b.next != 0 {
		at(b.next).prev = b.prev
	}
	b.prev, b.next = 0, 0
}

// mergeableNext returns b's successor when it is free and starts where b ends.
func (l *addrList) mergeableNext(b *block) *block {
	if b.next == 0 {
		return nil
	}
	if n := at(b.next); n.isFree() && b.end() == n.addr() {
		return n
	}
	return nil
}

// mergeablePrev returns b's predecessor when it is free and ends where b starts.
func (l *addrList) mergeablePrev(b *block) *block {
	if b.prev == 0 {
		return nil
	}
	if p := at(b.prev); p.isFree() && p.end() == b.addr() {
		return p
	}
	return nil
}

func (l *addrList) each(fn func(b *block)) {
	for cur := l.first; cur != 0; cur = at(cur).next {
		fn(at(cur))
	}
}

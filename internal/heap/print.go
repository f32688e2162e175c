// SPDX-License-Identifier: Apache-2.0

package heap

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
)

// Print writes a table of the free blocks in address order to w, followed by
// a one-line summary.
func (h *Heap) Print(w io.Writer) error {
	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString("┏━━━━━━━━━━━━━━━━━━━━┯━━━━━━━━━━━━┯━━━━━━━━━━━━━━━━━━━━┯━━━━━━━━━━━━━━━━━━━━┓\n")
	sb.WriteString("┃ address            │       size │ previous           │ next               ┃\n")
	sb.WriteString("┠────────────────────┼────────────┼────────────────────┼────────────────────┨\n")

	h.mu.Lock()
	var blocks int
	var free uintptr
	h.list.each(func(b *block) {
		if !b.isFree() {
			return
		}
		blocks++
		free += b.size()
		fmt.Fprintf(&sb, "┃ %#018x │ %10d │ %#018x │ %#018x ┃\n", b.addr(), b.size(), b.prev, b.next)
	})
	allocated, used, segments := h.allocated, h.used, len(h.segments)
	h.mu.Unlock()

	sb.WriteString("┗━━━━━━━━━━━━━━━━━━━━┷━━━━━━━━━━━━┷━━━━━━━━━━━━━━━━━━━━┷━━━━━━━━━━━━━━━━━━━━┛\n")
	fmt.Fprintf(&sb, "  %d free blocks (%s) in %d segments, %s allocated, %s used\n\n",
		blocks, humanize.IBytes(uint64(free)), segments,
		humanize.IBytes(uint64(allocated)), humanize.IBytes(uint64(used)))

	_, err := io.WriteString(w, sb.String())
	return err
}

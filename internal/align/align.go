// SPDX-License-Identifier: Apache-2.0

// Package align holds the address arithmetic shared by the allocator engines.
// Every alignment passed to these functions must be a power of two.
package align

// IsAligned reports whether addr is a multiple of alignment.
func IsAligned(addr, alignment uintptr) bool {
	return addr&(alignment-1) == 0
}

// Adjustment returns the number of bytes addr must be advanced by to become
// aligned.
func Adjustment(addr, alignment uintptr) uintptr {
	mask := alignment - 1
	if alignment&mask != 0 {
		panic("align: alignment is not a power of two")
	}
	if addr&mask == 0 {
		return 0
	}
	return alignment - addr&mask
}

// AdjustmentWithHeader returns the number of bytes addr must be advanced by so
// that headerSize bytes fit in front of an aligned address. The result always
// includes headerSize.
func AdjustmentWithHeader(addr, alignment, headerSize uintptr) uintptr {
	return Adjustment(addr+headerSize, alignment) + headerSize
}

// Up rounds n up to the next multiple of alignment.
func Up(n, alignment uintptr) uintptr {
	return (n + alignment - 1) &^ (alignment - 1)
}

// Down rounds n down to a multiple of alignment.
func Down(n, alignment uintptr) uintptr {
	return n &^ (alignment - 1)
}

// UpMult rounds n up to the next multiple of mult, which need not be a power
// of two. Zero stays zero.
func UpMult(n, mult uintptr) uintptr {
	if n == 0 {
		return 0
	}
	return n + mult - 1 - (n-1)%mult
}

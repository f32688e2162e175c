// SPDX-License-Identifier: Apache-2.0

package talloc

import (
	"unsafe"
)

const growThreshold = 256

// AllocateSlice creates a slice of type T with a given length and capacity,
// using the provided Arena for memory allocation.
// If the arena is nil or out of memory, it returns a slice from Go's make.
func AllocateSlice[T any](a Arena, len, cap int) []T {
	if a != nil && cap > 0 {
		var x T
		bufSize := unsafe.Sizeof(x) * uintptr(cap)
		if ptr := (*T)(a.Alloc(bufSize, unsafe.Alignof(x))); ptr != nil {
			return unsafe.Slice(ptr, cap)[:len]
		}
	}
	return make([]T, len, cap)
}

// SliceAppend appends data to s, taking new backing memory from a when s is
// full. The old backing array is left to the arena.
func SliceAppend[T any](a Arena, s []T, data ...T) []T {
	if a == nil {
		return append(s, data...)
	}
	if newCap := growCap(cap(s), len(s)+len(data)); newCap != cap(s) {
		s2 := AllocateSlice[T](a, len(s), newCap)
		copy(s2, s)
		s = s2
	}
	return append(s, data...)
}

// growCap returns the capacity to grow to so that need elements fit, or
// capacity itself when they already do.
func growCap(capacity, need int) int {
	if need <= capacity {
		return capacity
	}
	if capacity == 0 {
		return need
	}
	for need > capacity {
		if capacity < growThreshold {
			capacity *= 2
		} else {
			capacity += capacity / 4
		}
	}
	return capacity
}

// MakeSlice returns a slice of len elements and room for cap, backed by
// memory from t. The elements are zeroed. The slice must be given back with
// FreeSlice and T must not contain Go pointers.
func MakeSlice[T any](t *Talloc, len, cap int) []T {
	if cap <= 0 {
		return nil
	}
	var x T
	ptr := (*T)(t.Calloc(uintptr(cap), unsafe.Sizeof(x)))
	if ptr == nil {
		return nil
	}
	return unsafe.Slice(ptr, cap)[:len]
}

// AppendSlice appends data to s, a slice from MakeSlice or AppendSlice,
// growing its backing memory in place or by moving it with Realloc.
func AppendSlice[T any](t *Talloc, s []T, data ...T) []T {
	var x T
	if unsafe.Sizeof(x) == 0 {
		return append(s, data...)
	}
	return append(reserve(t, s, len(data)), data...)
}

// reserve makes room for n more elements behind s.
func reserve[T any](t *Talloc, s []T, n int) []T {
	newCap := growCap(cap(s), len(s)+n)
	if newCap == cap(s) {
		return s
	}
	var x T
	var old unsafe.Pointer
	if cap(s) > 0 {
		old = unsafe.Pointer(unsafe.SliceData(s))
	}
	ptr := (*T)(t.Realloc(old, uintptr(newCap)*unsafe.Sizeof(x)))
	if ptr == nil {
		return s
	}
	return unsafe.Slice(ptr, newCap)[:len(s)]
}

// FreeSlice releases the backing memory of a slice from MakeSlice or
// AppendSlice.
func FreeSlice[T any](t *Talloc, s []T) {
	var x T
	if cap(s) == 0 || unsafe.Sizeof(x) == 0 {
		return
	}
	t.Free(unsafe.Pointer(unsafe.SliceData(s)))
}

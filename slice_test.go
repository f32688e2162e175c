// SPDX-License-Identifier: Apache-2.0

package talloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// mockArena is a simple implementation of the Arena interface for testing purposes.
// It simply allocates memory using Go's built-in make function.
type mockArena struct {
	allocs int
}

func (m *mockArena) Alloc(size, _ uintptr) unsafe.Pointer {
	m.allocs++
	return unsafe.Pointer(&make([]byte, size)[0])
}

func (m *mockArena) Reset()    {}
func (m *mockArena) Release()  {}
func (m *mockArena) Len() int  { return 0 }
func (m *mockArena) Cap() int  { return int(^uintptr(0) >> 1) }
func (m *mockArena) Peak() int { return 0 }

func TestSliceAppendWithArena(t *testing.T) {
	a := &mockArena{}

	s := AllocateSlice[int](a, 3, 3)
	s[0] = 1
	s[1] = 2
	s[2] = 3

	result := SliceAppend[int](a, s, 4, 5)
	require.Equal(t, []int{1, 2, 3, 4, 5}, result)
	require.Equal(t, 6, cap(result))
	require.Equal(t, 2, a.allocs)

	// fits the capacity already there
	result = SliceAppend[int](a, result, 6)
	require.Len(t, result, 6)
	require.Equal(t, 2, a.allocs)
}

func TestSliceAppendWithoutArena(t *testing.T) {
	s := AllocateSlice[int](nil, 0, 2)
	s = SliceAppend[int](nil, s, 1, 2, 3)
	require.Equal(t, []int{1, 2, 3}, s)
}

func TestAllocateSliceFromRegion(t *testing.T) {
	tl := newTestTalloc(t)
	r := NewRegion(tl, WithChunkSize(4096))

	s := AllocateSlice[uint32](r, 4, 16)
	require.Len(t, s, 4)
	require.Equal(t, 16, cap(s))
	require.Equal(t, 64, r.Len())
	require.Equal(t, []uint32{0, 0, 0, 0}, s)
}

func TestGrowCap(t *testing.T) {
	require.Equal(t, 5, growCap(0, 5))
	require.Equal(t, 8, growCap(8, 8))
	require.Equal(t, 16, growCap(8, 9))
	require.Equal(t, 64, growCap(8, 40))
	require.Equal(t, 320, growCap(256, 257))
}

func TestMakeSlice(t *testing.T) {
	tl := newTestTalloc(t)

	s := MakeSlice[int64](tl, 3, 10)
	require.Equal(t, []int64{0, 0, 0}, s)
	require.Equal(t, 10, cap(s))
	require.Zero(t, uintptr(unsafe.Pointer(unsafe.SliceData(s)))%Alignment)

	require.Nil(t, MakeSlice[int64](tl, 0, 0))
	FreeSlice(tl, s)
	FreeSlice[int64](tl, nil)

	tl.Optimize()
	require.Zero(t, tl.Used())
}

func TestAppendSlice(t *testing.T) {
	tl := newTestTalloc(t)

	var s []int32
	for i := range 1000 {
		s = AppendSlice(tl, s, int32(i))
	}
	require.Len(t, s, 1000)
	for i, v := range s {
		require.Equal(t, int32(i), v)
	}
	require.GreaterOrEqual(t, tl.UsableSize(unsafe.Pointer(unsafe.SliceData(s))), uintptr(cap(s))*4)

	s = AppendSlice(tl, s[:0], 7, 8, 9)
	require.Equal(t, []int32{7, 8, 9}, s)

	FreeSlice(tl, s)
	tl.Optimize()
	require.Zero(t, tl.Used())
	require.NoError(t, tl.Check())
}

func TestAppendSliceZeroSize(t *testing.T) {
	tl := newTestTalloc(t)

	s := AppendSlice(tl, nil, struct{}{}, struct{}{})
	require.Len(t, s, 2)
	FreeSlice(tl, s)
	require.Zero(t, tl.Allocated())
}

// SPDX-License-Identifier: Apache-2.0

package header

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestTagOf(t *testing.T) {
	buf := make([]uintptr, 4)
	p := unsafe.Pointer(&buf[2])

	tag := Of(p)
	tag.Cookie = uintptr(p)
	tag.Size = 96

	require.Equal(t, uintptr(p), buf[0])
	require.Equal(t, uintptr(96), buf[1])
	require.True(t, tag.Live(p))
	require.False(t, tag.Live(unsafe.Pointer(&buf[3])))
}

func TestTagFitsAlignment(t *testing.T) {
	require.Equal(t, uintptr(0), Alignment%TagSize)
	require.Equal(t, 2*WordSize, TagSize)
}

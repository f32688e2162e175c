// SPDX-License-Identifier: Apache-2.0

package align

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsAligned(t *testing.T) {
	require.True(t, IsAligned(0, 16))
	require.True(t, IsAligned(32, 16))
	require.False(t, IsAligned(33, 16))
	require.True(t, IsAligned(33, 1))
}

func TestAdjustment(t *testing.T) {
	require.Equal(t, uintptr(0), Adjustment(64, 16))
	require.Equal(t, uintptr(15), Adjustment(65, 16))
	require.Equal(t, uintptr(1), Adjustment(79, 16))
	require.Panics(t, func() { Adjustment(10, 12) })
}

func TestAdjustmentWithHeader(t *testing.T) {
	// 100 + 16 = 116 -> 128, so 28 bytes in total
	require.Equal(t, uintptr(28), AdjustmentWithHeader(100, 16, 16))
	// already aligned after the header
	require.Equal(t, uintptr(16), AdjustmentWithHeader(96, 16, 16))
	for addr := uintptr(1000); addr < 1100; addr++ {
		adj := AdjustmentWithHeader(addr, 32, 24)
		require.GreaterOrEqual(t, adj, uintptr(24))
		require.True(t, IsAligned(addr+adj, 32))
	}
}

func TestRounding(t *testing.T) {
	require.Equal(t, uintptr(48), Up(33, 16))
	require.Equal(t, uintptr(48), Up(48, 16))
	require.Equal(t, uintptr(32), Down(47, 16))
	require.Equal(t, uintptr(0), UpMult(0, 24))
	require.Equal(t, uintptr(24), UpMult(1, 24))
	require.Equal(t, uintptr(48), UpMult(25, 24))
	require.Equal(t, uintptr(64), UpMult(64, 32))
}

// SPDX-License-Identifier: Apache-2.0

package talloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// fatalPanic carries a fatal error out of the allocator while abort is
// intercepted.
type fatalPanic struct {
	err error
}

// interceptFatal turns the process exit of the fatal path into a panic for
// the duration of the test. Tests using it must not run in parallel.
func interceptFatal(t *testing.T) {
	t.Helper()
	prev := abort
	abort = func(err error) {
		panic(fatalPanic{err})
	}
	t.Cleanup(func() { abort = prev })
}

// requireFatal runs fn and asserts that it hit the fatal path with target.
func requireFatal(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		fp, ok := r.(fatalPanic)
		require.True(t, ok, "expected a fatal error, got %v", r)
		require.ErrorIs(t, fp.err, target)
	}()
	fn()
}

func newTestTalloc(t *testing.T, opts ...Option) *Talloc {
	t.Helper()
	interceptFatal(t)
	tl, err := New(append([]Option{WithForceReset(true)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, tl.ForceReset())
	})
	return tl
}

func fill(p unsafe.Pointer, n uintptr, c byte) {
	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		b[i] = c
	}
}

func requireFilled(t *testing.T, p unsafe.Pointer, n uintptr, c byte) {
	t.Helper()
	for i, got := range unsafe.Slice((*byte)(p), n) {
		if got != c {
			require.Failf(t, "unexpected byte", "offset %d: got %#x, want %#x", i, got, c)
		}
	}
}

// SPDX-License-Identifier: Apache-2.0

package talloc

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/wundergraph/go-talloc/internal/header"
)

func TestNewValidatesOptions(t *testing.T) {
	for name, opt := range map[string]Option{
		"zero segment":          WithSegmentSize(0),
		"unaligned granularity": WithPoolGranularity(24),
		"zero cells":            WithCellsPerSlab(0),
		"threshold off grid":    WithSmallThreshold(100),
		"negative limit":        WithMemoryLimit(-1),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(opt)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	tl, err := New(WithPoolGranularity(64), WithSmallThreshold(4096))
	require.NoError(t, err)
	require.Zero(t, tl.Allocated())
}

func TestMallocZero(t *testing.T) {
	tl := newTestTalloc(t)
	require.Nil(t, tl.Malloc(0))
	require.Zero(t, tl.Allocated())
	tl.Free(nil)
}

func TestRoundTrip(t *testing.T) {
	tl := newTestTalloc(t)

	for _, n := range []uintptr{1, 15, 16, 100, 2000, 2048, 5000, 1 << 20} {
		p := tl.Malloc(n)
		require.NotNil(t, p, "size %d", n)
		require.GreaterOrEqual(t, tl.UsableSize(p), n)
		fill(p, n, 0xab)
		requireFilled(t, p, n, 0xab)
		tl.Free(p)
	}
	tl.Optimize()
	require.Zero(t, tl.Used())
	require.NoError(t, tl.Check())
}

func TestAlignment(t *testing.T) {
	for _, pools := range []bool{true, false} {
		tl := newTestTalloc(t, WithPools(pools))
		for n := uintptr(1); n < 5000; n += 37 {
			p := tl.Malloc(n)
			require.Zero(t, uintptr(p)%Alignment, "size %d", n)
		}
	}
}

func TestNoOverlap(t *testing.T) {
	tl := newTestTalloc(t)
	rng := rand.New(rand.NewPCG(3, 5))

	type span struct {
		p unsafe.Pointer
		n uintptr
		c byte
	}
	var spans []span
	for i := range 500 {
		n := uintptr(1 + rng.IntN(4000))
		p := tl.Malloc(n)
		fill(p, n, byte(i))
		spans = append(spans, span{p, n, byte(i)})
	}
	for _, s := range spans {
		requireFilled(t, s.p, s.n, s.c)
	}
}

func TestThresholdRouting(t *testing.T) {
	tl := newTestTalloc(t)
	limit := uintptr(DefaultSmallThreshold) - header.TagSize

	small := tl.Malloc(limit)
	require.Equal(t, uintptr(DefaultSmallThreshold), header.Of(small).Size)
	require.Equal(t, limit, tl.UsableSize(small))
	pools := tl.Stats().Pools
	require.Len(t, pools, 1)
	require.Equal(t, uintptr(DefaultSmallThreshold), pools[0].CellSize)
	require.Equal(t, 1, pools[0].Live)

	large := tl.Malloc(limit + 1)
	require.Greater(t, header.Of(large).Size, uintptr(DefaultSmallThreshold))
	require.GreaterOrEqual(t, tl.UsableSize(large), limit+1)
	pools = tl.Stats().Pools
	require.Len(t, pools, 1)
	require.Equal(t, 1, pools[0].Live)

	tl.Free(large)
	tl.Free(small)
	require.Zero(t, tl.Stats().Pools[0].Live)
}

func TestPoolsDisabled(t *testing.T) {
	tl := newTestTalloc(t, WithPools(false))

	p := tl.Malloc(16)
	require.Empty(t, tl.Stats().Pools)
	require.GreaterOrEqual(t, tl.UsableSize(p), uintptr(16))
	tl.Free(p)
	tl.Optimize()
	require.Zero(t, tl.Used())
}

func TestBestFitThroughFrontEnd(t *testing.T) {
	tl := newTestTalloc(t, WithPools(false))

	a := tl.Malloc(64)
	tl.Malloc(8)
	b := tl.Malloc(128)
	tl.Malloc(8)
	c := tl.Malloc(256)
	tl.Malloc(8)

	tl.Free(a)
	tl.Free(b)
	tl.Free(c)

	require.Equal(t, b, tl.Malloc(100))
	require.NoError(t, tl.Check())
}

func TestCoalescingThroughFrontEnd(t *testing.T) {
	tl := newTestTalloc(t, WithPools(false), WithSegmentSize(64<<10))

	ps := []unsafe.Pointer{tl.Malloc(3000), tl.Malloc(3000), tl.Malloc(3000)}
	guard := tl.Malloc(3000)
	// payload bytes of a block spanning all three
	combined := uintptr(ps[2]) + tl.UsableSize(ps[2]) - uintptr(ps[0])

	before := tl.Stats().FreeBlocks
	tl.Free(ps[0])
	tl.Free(ps[2])
	require.Equal(t, before+2, tl.Stats().FreeBlocks)

	// the middle block joins both neighbours
	tl.Free(ps[1])
	require.Equal(t, before+1, tl.Stats().FreeBlocks)
	require.NoError(t, tl.Check())

	// only the merged range can hold it short of the tail, and best fit
	// prefers it
	p := tl.Malloc(combined)
	require.Equal(t, ps[0], p)
	require.NoError(t, tl.Check())

	tl.Free(p)
	tl.Free(guard)
	st := tl.Stats()
	require.Equal(t, 1, st.FreeBlocks)
	require.Equal(t, st.Allocated, st.FreeBytes)
	require.NoError(t, tl.Check())
}

func TestSlotReuseScenario(t *testing.T) {
	tl := newTestTalloc(t)

	ptrs := make([]unsafe.Pointer, 10)
	for i := range ptrs {
		ptrs[i] = tl.Malloc(16)
	}
	before := tl.Stats()
	require.Len(t, before.Pools, 1)
	require.Equal(t, 1, before.Pools[0].Slabs)

	freed := map[unsafe.Pointer]bool{}
	for i := 0; i < len(ptrs); i += 2 {
		tl.Free(ptrs[i])
		freed[ptrs[i]] = true
	}
	for range 5 {
		p := tl.Malloc(16)
		require.True(t, freed[p], "new allocation did not reuse a freed slot")
		delete(freed, p)
	}

	after := tl.Stats()
	require.Equal(t, before.Segments, after.Segments)
	require.Equal(t, before.Allocated, after.Allocated)
	require.Equal(t, before.Pools[0].Slabs, after.Pools[0].Slabs)
	require.Equal(t, 10, after.Pools[0].Live)
}

func TestPoolReclamation(t *testing.T) {
	tl := newTestTalloc(t)

	var ptrs []unsafe.Pointer
	for range 1000 {
		ptrs = append(ptrs, tl.Malloc(40))
	}
	keep := tl.Malloc(1000)
	used := tl.Used()
	for _, p := range ptrs {
		tl.Free(p)
	}
	require.Equal(t, used, tl.Used())

	tl.Optimize()
	require.Less(t, tl.Used(), used)
	pools := tl.Stats().Pools
	require.Len(t, pools, 1)
	require.Equal(t, tl.pool.CellSize(1000), pools[0].CellSize)

	tl.Free(keep)
	tl.Optimize()
	require.Zero(t, tl.Used())
	require.Empty(t, tl.Stats().Pools)
	require.NoError(t, tl.Check())
}

func TestCallocZeroFill(t *testing.T) {
	for _, n := range []uintptr{24, 3000} {
		tl := newTestTalloc(t)
		p := tl.Malloc(n)
		fill(p, n, 0xff)
		tl.Free(p)

		q := tl.Calloc(n/8, 8)
		require.Equal(t, p, q, "freed memory was not reused")
		requireFilled(t, q, n, 0)
	}
}

func TestCallocOverflow(t *testing.T) {
	tl := newTestTalloc(t)
	requireFatal(t, ErrSizeOverflow, func() {
		tl.Calloc(^uintptr(0)/2, 3)
	})
	require.Nil(t, tl.Calloc(0, 8))
}

func TestRealloc(t *testing.T) {
	tl := newTestTalloc(t)

	p := tl.Realloc(nil, 10)
	require.NotNil(t, p)
	fill(p, 10, 7)

	// a size the current cell could hold still moves
	p2 := tl.Realloc(p, tl.UsableSize(p))
	require.NotEqual(t, p, p2)
	requireFilled(t, p2, 10, 7)
	require.Equal(t, 1, tl.Stats().Pools[0].Live)

	// pool cell to heap block
	q := tl.Realloc(p2, 5000)
	require.NotEqual(t, p2, q)
	requireFilled(t, q, 10, 7)
	require.Zero(t, tl.Stats().Pools[0].Live)

	fill(q, 5000, 9)
	r := tl.Realloc(q, 20000)
	requireFilled(t, r, 5000, 9)

	// shrinking a heap block below the threshold lands in a pool cell and
	// gives the heap block back
	used := tl.Used()
	s := tl.Realloc(r, 16)
	require.NotEqual(t, r, s)
	requireFilled(t, s, 16, 9)
	require.Equal(t, 1, tl.Stats().Pools[0].Live)
	require.Less(t, tl.Used(), used-20000)

	require.Nil(t, tl.Realloc(s, 0))
	tl.Optimize()
	require.Zero(t, tl.Used())
	require.NoError(t, tl.Check())
}

func TestDoubleFree(t *testing.T) {
	for name, size := range map[string]uintptr{"pool": 16, "heap": 5000} {
		t.Run(name, func(t *testing.T) {
			tl := newTestTalloc(t)
			p := tl.Malloc(size)
			tl.Malloc(size)
			tl.Free(p)
			requireFatal(t, ErrCorrupted, func() { tl.Free(p) })
			require.NoError(t, tl.Check())
		})
	}
}

func TestDoubleFreeWithoutMemChecking(t *testing.T) {
	for name, size := range map[string]uintptr{"pool": 16, "heap": 5000} {
		t.Run(name, func(t *testing.T) {
			tl := newTestTalloc(t, WithMemChecking(false))
			p := tl.Malloc(size)
			tl.Malloc(size)
			tl.Free(p)
			requireFatal(t, ErrCorrupted, func() { tl.Free(p) })
		})
	}
}

func TestFreeForeignPointer(t *testing.T) {
	tl := newTestTalloc(t)
	buf := make([]byte, 64)
	requireFatal(t, ErrCorrupted, func() {
		tl.Free(unsafe.Pointer(&buf[32]))
	})
	requireFatal(t, ErrCorrupted, func() {
		tl.Realloc(unsafe.Pointer(&buf[32]), 100)
	})
}

func TestErrorFunc(t *testing.T) {
	var got atomic.Pointer[error]
	tl := newTestTalloc(t, WithErrorFunc(func(err error) {
		got.Store(&err)
	}))

	p := tl.Malloc(32)
	tl.Free(p)
	requireFatal(t, ErrCorrupted, func() { tl.Free(p) })
	require.NotNil(t, got.Load())
	require.ErrorIs(t, *got.Load(), ErrCorrupted)

	var second bool
	tl.SetErrorFunc(func(error) { second = true })
	requireFatal(t, ErrSizeOverflow, func() { tl.Calloc(^uintptr(0), 2) })
	require.True(t, second)
	require.ErrorIs(t, *got.Load(), ErrCorrupted)

	tl.SetErrorFunc(nil)
	requireFatal(t, ErrSizeOverflow, func() { tl.Calloc(^uintptr(0), 2) })
}

func TestMemoryLimit(t *testing.T) {
	tl := newTestTalloc(t, WithMemoryLimit(1<<20), WithSegmentSize(512<<10))

	require.NotNil(t, tl.Malloc(100<<10))
	require.NotNil(t, tl.Malloc(300<<10))
	// a second segment brings the total to exactly the limit
	require.NotNil(t, tl.Malloc(400<<10))
	require.Equal(t, 2, tl.Stats().Segments)
	require.Equal(t, int64(1<<20), tl.Stats().MemoryLimit)

	requireFatal(t, ErrOutOfMemory, func() { tl.Malloc(1 << 20) })
	require.NoError(t, tl.Check())
}

func TestExpand(t *testing.T) {
	tl := newTestTalloc(t, WithSegmentSize(1<<20))

	tl.Expand(10 << 20)
	require.Equal(t, uintptr(10<<20), tl.Allocated())

	p := tl.Malloc(8 << 20)
	require.NotNil(t, p)
	require.Equal(t, 1, tl.Stats().Segments)
}

func TestForceReset(t *testing.T) {
	tl, err := New()
	require.NoError(t, err)
	require.ErrorIs(t, tl.ForceReset(), ErrResetDisabled)

	tl = newTestTalloc(t)
	for range 100 {
		tl.Malloc(16)
		tl.Malloc(3000)
	}
	require.NotZero(t, tl.Allocated())
	require.NoError(t, tl.ForceReset())

	st := tl.Stats()
	require.Zero(t, st.Allocated)
	require.Zero(t, st.Used)
	require.Zero(t, st.Segments)
	require.Empty(t, st.Pools)

	p := tl.Malloc(16)
	require.NotNil(t, p)
	tl.Free(p)
}

func TestPrint(t *testing.T) {
	tl := newTestTalloc(t, WithSegmentSize(64<<10))
	tl.Malloc(5000)

	var buf bytes.Buffer
	require.NoError(t, tl.Print(&buf))
	require.Contains(t, buf.String(), "1 free blocks")
	require.Contains(t, buf.String(), "64 KiB allocated")
}

func TestConcurrentUse(t *testing.T) {
	tl := newTestTalloc(t)

	var g errgroup.Group
	for w := range 8 {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(uint64(w), 42))
			type live struct {
				p unsafe.Pointer
				n uintptr
			}
			var ptrs []live
			for range 3000 {
				switch op := rng.IntN(10); {
				case op < 5 || len(ptrs) == 0:
					n := uintptr(1 + rng.IntN(6000))
					p := tl.Malloc(n)
					fill(p, n, byte(w))
					ptrs = append(ptrs, live{p, n})
				case op < 7:
					j := rng.IntN(len(ptrs))
					n := uintptr(1 + rng.IntN(6000))
					p := tl.Realloc(ptrs[j].p, n)
					fill(p, n, byte(w))
					ptrs[j] = live{p, n}
				default:
					j := rng.IntN(len(ptrs))
					for _, c := range unsafe.Slice((*byte)(ptrs[j].p), ptrs[j].n) {
						if c != byte(w) {
							return errors.New("allocation shared between goroutines")
						}
					}
					tl.Free(ptrs[j].p)
					ptrs[j] = ptrs[len(ptrs)-1]
					ptrs = ptrs[:len(ptrs)-1]
				}
			}
			for _, l := range ptrs {
				tl.Free(l.p)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	tl.Optimize()
	require.Zero(t, tl.Used())
	require.NoError(t, tl.Check())
}

const crasherEnv = "TALLOC_CRASHER"

func TestFatalTerminatesProcess(t *testing.T) {
	if os.Getenv(crasherEnv) == "1" {
		tl, err := New(WithLogger(NewTextLogger(0)), WithErrorFunc(func(err error) {
			os.Stderr.WriteString("callback: " + err.Error() + "\n")
		}))
		if err != nil {
			return
		}
		p := tl.Malloc(64)
		tl.Free(p)
		tl.Free(p)
		os.Stderr.WriteString("survived\n")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestFatalTerminatesProcess$")
	cmd.Env = append(os.Environ(), crasherEnv+"=1")
	var stderr strings.Builder
	cmd.Stderr = &stderr
	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, ExitCode, exitErr.ExitCode())
	require.Contains(t, stderr.String(), "callback: talloc: pointer being freed was not allocated")
	require.Contains(t, stderr.String(), "fatal allocator error")
	require.NotContains(t, stderr.String(), "survived")
}

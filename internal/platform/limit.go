// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limited wraps a Source and refuses segments once the bytes outstanding
// would exceed a fixed budget.
type Limited struct {
	src   Source
	limit int64
	sem   *semaphore.Weighted
	inUse atomic.Int64
}

// WithLimit caps the bytes src may have outstanding. A non-positive limit
// disables the cap and only tracks usage.
func WithLimit(src Source, limit int64) *Limited {
	l := &Limited{src: src, limit: limit}
	if limit > 0 {
		l.sem = semaphore.NewWeighted(limit)
	}
	return l
}

// Acquire satisfies the Source interface. It never blocks.
func (l *Limited) Acquire(size uintptr) ([]byte, error) {
	n := int64(size)
	if n <= 0 {
		return nil, ErrInvalidSize
	}
	if l.sem != nil && !l.sem.TryAcquire(n) {
		return nil, ErrLimitExceeded
	}
	mem, err := l.src.Acquire(size)
	if err != nil {
		if l.sem != nil {
			l.sem.Release(n)
		}
		return nil, err
	}
	l.inUse.Add(n)
	return mem, nil
}

// Release satisfies the Source interface.
func (l *Limited) Release(mem []byte) error {
	n := int64(len(mem))
	if err := l.src.Release(mem); err != nil {
		return err
	}
	if n > 0 {
		if l.sem != nil {
			l.sem.Release(n)
		}
		l.inUse.Add(-n)
	}
	return nil
}

// InUse returns the bytes currently held through this source.
func (l *Limited) InUse() int64 {
	return l.inUse.Load()
}

// Limit returns the configured cap, zero when unlimited.
func (l *Limited) Limit() int64 {
	return l.limit
}

// SPDX-License-Identifier: Apache-2.0

// Package fault holds the error taxonomy shared by the allocator engines.
// Every error here except ErrResetDisabled is fatal when raised by an
// allocation or free: the engines report it and the process terminates.
package fault

import "errors"

var (
	// ErrOutOfMemory means the segment source could not supply more memory.
	ErrOutOfMemory = errors.New("talloc: out of memory")
	// ErrCorrupted means a header failed validation: a double free, a foreign
	// pointer or overwritten bookkeeping.
	ErrCorrupted = errors.New("talloc: pointer being freed was not allocated")
	// ErrCategoryOverflow means a cell size mapped outside the pool categories.
	ErrCategoryOverflow = errors.New("talloc: pool category overflow")
	// ErrSizeOverflow means a size computation wrapped around.
	ErrSizeOverflow = errors.New("talloc: size overflow")
	// ErrResetDisabled is returned by ForceReset when the escape hatch is off.
	ErrResetDisabled = errors.New("talloc: force reset is disabled")
)

// Func receives fatal errors. Implementations must not return control to the
// caller in production; the engines only guard against it so tests can
// intercept the failure.
type Func func(err error)

// SPDX-License-Identifier: Apache-2.0

package talloc

import (
	"errors"
	"log/slog"
	"os"

	"github.com/wundergraph/go-talloc/internal/fault"
)

var (
	// ErrOutOfMemory is raised when the platform cannot supply a segment.
	ErrOutOfMemory = fault.ErrOutOfMemory
	// ErrCorrupted is raised when a pointer fails validation on free: a double
	// free, a pointer the allocator never returned or an overwritten header.
	ErrCorrupted = fault.ErrCorrupted
	// ErrCategoryOverflow is raised when a cell size has no pool category.
	ErrCategoryOverflow = fault.ErrCategoryOverflow
	// ErrSizeOverflow is raised when Calloc's size multiplication overflows.
	ErrSizeOverflow = fault.ErrSizeOverflow
	// ErrResetDisabled is returned by ForceReset unless WithForceReset(true)
	// was given.
	ErrResetDisabled = fault.ErrResetDisabled
	// ErrInvalidConfig is returned by New for inconsistent options.
	ErrInvalidConfig = errors.New("talloc: invalid configuration")
)

// ExitCode is the status the process terminates with after a fatal error.
const ExitCode = 2

// ErrorFunc is invoked with the fatal error right before the process
// terminates.
type ErrorFunc func(err error)

// abort terminates the process. Tests replace it.
var abort = func(error) {
	os.Exit(ExitCode)
}

// fatal is the single exit of every unrecoverable condition: it logs, hands
// the error to the callback and terminates. Engines treat a return from it
// as failure of the current operation.
func (t *Talloc) fatal(err error) {
	t.logger.Error("fatal allocator error", slog.Any("error", err))
	if fn := t.errFn.Load(); fn != nil && *fn != nil {
		(*fn)(err)
	}
	abort(err)
}

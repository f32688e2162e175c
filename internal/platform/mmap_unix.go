// SPDX-License-Identifier: Apache-2.0

//go:build unix

package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type anonMap struct{}

// Mmap returns a Source backed by private anonymous mappings. Segments live
// outside the Go heap and are unmapped on Release.
func Mmap() Source {
	return anonMap{}
}

func (anonMap) Acquire(size uintptr) ([]byte, error) {
	if size == 0 || int(size) < 0 {
		return nil, ErrInvalidSize
	}
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("platform: map %d bytes: %w", size, err)
	}
	return data, nil
}

func (anonMap) Release(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return unix.Munmap(mem)
}

func defaultSource() Source {
	return anonMap{}
}

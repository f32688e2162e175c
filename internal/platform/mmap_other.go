// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package platform

// Mmap falls back to the Go heap where anonymous mappings are unavailable.
func Mmap() Source {
	return goHeap{}
}

func defaultSource() Source {
	return goHeap{}
}

// SPDX-License-Identifier: Apache-2.0

// Command talloc drives the allocator with synthetic workloads and prints its
// internal state.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

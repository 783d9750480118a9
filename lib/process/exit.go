// Copyright 2026 The Deckhand Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint error handling shared by
// Deckhand binaries.
package process

import (
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits. When err carries an
// ExitCode() int method the process exits with that code, otherwise
// with 1. Use in main() for errors from run(), where the structured
// logger may not be initialized yet.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	if coder, ok := err.(interface{ ExitCode() int }); ok {
		os.Exit(coder.ExitCode())
	}
	os.Exit(1)
}

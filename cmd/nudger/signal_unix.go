//go:build !windows

package main

import (
	"os"
	"syscall"
)

// terminationSignals stop the server and cancel running CLI batches.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

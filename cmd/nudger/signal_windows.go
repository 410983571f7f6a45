//go:build windows

package main

import (
	"os"
)

// terminationSignals stop the server and cancel running CLI batches.
// Windows only delivers os.Interrupt (Ctrl+C).
var terminationSignals = []os.Signal{os.Interrupt}

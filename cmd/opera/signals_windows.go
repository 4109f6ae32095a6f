//go:build windows

package main

import (
	"os"
	"syscall"
)

func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// Windows has no SIGHUP; the file watcher is the only reload trigger.
func reloadSignals() []os.Signal { return nil }

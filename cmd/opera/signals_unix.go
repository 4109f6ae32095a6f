//go:build !windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals stop the server.
func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// reloadSignals trigger an immediate config reload.
func reloadSignals() []os.Signal {
	return []os.Signal{syscall.SIGHUP}
}

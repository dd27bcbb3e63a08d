//go:build unix

package inboxcli

import (
	"os"
	"syscall"
)

var resumeSignals = []os.Signal{syscall.SIGCONT}

//go:build !unix

package inboxcli

import "os"

var resumeSignals []os.Signal

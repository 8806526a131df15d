//go:build !unix && !windows

package pidfile

import (
	"errors"
	"os"
)

// Platforms without advisory locks only record the PID.
var errWouldBlock = errors.New("lock held")

func lockFile(*os.File) error   { return nil }
func unlockFile(*os.File) error { return nil }

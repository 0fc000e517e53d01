package exec

import (
	"errors"
	"io/fs"
	"syscall"
)

// ptyExitError reports whether a read error is the normal way a pty signals
// that the child exited (EIO on Linux), as opposed to a real stream failure.
func ptyExitError(err error) bool {
	return errors.Is(err, syscall.EIO) || errors.Is(err, fs.ErrClosed)
}

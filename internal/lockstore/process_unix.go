//go:build unix

package lockstore

import (
	"errors"

	"golang.org/x/sys/unix"
)

// osProbe checks process liveness with a zero-signal kill. Success and
// EPERM both mean the process exists; any other error means it does not.
type osProbe struct{}

func (osProbe) Alive(pid int) bool {
	if pid <= 0 {
		// PID 0 would signal our own process group, not a specific process.
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}

//go:build windows

package batch

import (
	"os"

	"golang.org/x/sys/windows"
)

// flockExclusiveNonBlock acquires an exclusive non-blocking lock on the
// file via LockFileEx. Returns ErrLockBusy if the lock is already held.
func flockExclusiveNonBlock(f *os.File) error {
	ol := new(windows.Overlapped)
	err := windows.LockFileEx(windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0, 1, 0, ol)
	if err == windows.ERROR_LOCK_VIOLATION {
		return ErrLockBusy
	}
	return err
}

// flockUnlock releases the lock on the file.
func flockUnlock(f *os.File) error {
	ol := new(windows.Overlapped)
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, ol)
}

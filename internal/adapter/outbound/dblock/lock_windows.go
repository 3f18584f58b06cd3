//go:build windows

package dblock

import (
	"errors"

	"golang.org/x/sys/windows"
)

// ErrLocked is returned by TryLock when another process already holds the
// lock.
var ErrLocked = errors.New("dblock: database is locked by another process")

// TryLock attempts to acquire an exclusive, non-blocking lock on fd.
func TryLock(fd uintptr) error {
	var ol windows.Overlapped
	err := windows.LockFileEx(windows.Handle(fd),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0, 1, 0, &ol)
	if errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
		return ErrLocked
	}
	return err
}

// Unlock releases a lock acquired by TryLock.
func Unlock(fd uintptr) error {
	var ol windows.Overlapped
	return windows.UnlockFileEx(windows.Handle(fd), 0, 1, 0, &ol)
}

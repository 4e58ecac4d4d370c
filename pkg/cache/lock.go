package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	lockPoll  = 50 * time.Millisecond
	lockRetry = 100 * time.Millisecond
)

// Lock takes the cross-process lock of target by creating target.lock with the
// owner's pid. A lock whose owner is dead is removed and taken over. Lock waits
// for a live owner until ctx is done.
func Lock(ctx context.Context, target string) (unlock func() error, err error) {
	lockFile := target + ".lock"

	if err := os.MkdirAll(filepath.Dir(lockFile), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent dir for lock: %w", err)
	}

	for {
		f, err := os.OpenFile(lockFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			content := fmt.Sprintf("%s %d", time.Now().Format(time.RFC3339), os.Getpid())
			if _, err := f.WriteString(content); err != nil {
				f.Close()
				os.Remove(lockFile)
				return nil, fmt.Errorf("failed to write to lock file: %w", err)
			}
			f.Close()
			return func() error {
				return os.Remove(lockFile)
			}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}

		wait := lockPoll
		switch owner, err := lockOwner(lockFile); {
		case errors.Is(err, os.ErrNotExist):
			continue
		case errors.Is(err, errCorruptLock):
			os.Remove(lockFile)
			continue
		case err != nil:
			wait = lockRetry
		case !isPidAlive(owner):
			os.Remove(lockFile)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lock %s: %w", lockFile, ctx.Err())
		case <-time.After(wait):
		}
	}
}

var errCorruptLock = errors.New("corrupt lock file")

// lockOwner returns the pid recorded in a lock file.
func lockOwner(lockFile string) (int, error) {
	content, err := os.ReadFile(lockFile)
	if err != nil {
		return 0, err
	}
	parts := strings.Fields(string(content))
	if len(parts) < 2 {
		return 0, errCorruptLock
	}
	pid, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, errCorruptLock
	}
	return pid, nil
}

func isPidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 only checks existence.
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone) {
		return false
	}
	// EPERM: the process exists but belongs to someone else.
	return true
}

//go:build unix

package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

const lockPollInterval = 50 * time.Millisecond

type fileLock struct {
	file *os.File
}

// acquireFileLock polls a non-blocking flock(2) until it succeeds or ctx is
// done. The lock file is kept after release; removing it would let two
// processes lock different inodes of the same path.
func acquireFileLock(ctx context.Context, path string) (*fileLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening lock file: %v", ErrRegistry, err)
	}

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return &fileLock{file: file}, nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			file.Close()
			return nil, fmt.Errorf("%w: flock %s: %v", ErrRegistry, path, err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			file.Close()
			return nil, fmt.Errorf("waiting for lock %s: %w", path, ctx.Err())
		}
	}
}

func (l *fileLock) release() error {
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	return l.file.Close()
}

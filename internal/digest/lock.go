package digest

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// ErrJobLocked means another digest job holds the lock file.
var ErrJobLocked = errors.New("another digest job is running")

// LockFileName is created in the app dir for the duration of a job.
const LockFileName = "digest.lock"

// acquireLock creates path exclusively and writes the pid into it. A
// leftover file from a crashed job must be removed by hand.
func acquireLock(path string) (func() error, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w (lock file %s)", ErrJobLocked, path)
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write lock file: %w", werr)
	}
	return func() error {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove lock file: %w", err)
		}
		return nil
	}, nil
}

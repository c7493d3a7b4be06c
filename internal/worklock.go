package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// lockWorkTree takes an exclusive file lock guarding one video's local output
// tree, so that two worker processes sharing a work directory never write the
// same tree. The returned func releases the lock and removes the lock file.
func lockWorkTree(streamsDir, videoID string) (func(), error) {
	if err := os.MkdirAll(streamsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create streams directory: %w", err)
	}
	lockPath := filepath.Join(streamsDir, videoID+".lock")
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire %s: %w", lockPath, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobBusy, lockPath)
	}
	return func() {
		lock.Unlock()
		os.Remove(lockPath)
	}, nil
}

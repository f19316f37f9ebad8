package utils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const repoLockName = "loomctl.lock"

// RepoLock serialises loomctl teardowns within one repository. The lock file
// lives in the git common dir so every linked worktree shares it.
type RepoLock struct {
	lockFile *flock.Flock
	lockPath string
}

// NewRepoLock creates a lock for the repository whose common git dir is gitCommonDir
func NewRepoLock(gitCommonDir string) (*RepoLock, error) {
	info, err := os.Stat(gitCommonDir)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("git directory does not exist: %s", gitCommonDir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat git directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a git directory: %s", gitCommonDir)
	}

	lockPath := filepath.Join(gitCommonDir, repoLockName)

	return &RepoLock{
		lockFile: flock.New(lockPath),
		lockPath: lockPath,
	}, nil
}

// TryLock attempts to acquire the repository lock without waiting
func (rl *RepoLock) TryLock() error {
	locked, err := rl.lockFile.TryLock()
	if err != nil {
		return fmt.Errorf("failed to try lock: %w", err)
	}

	if !locked {
		return fmt.Errorf("another loomctl cleanup is already running in this repository")
	}

	return nil
}

// LockContext polls for the lock until it is acquired or ctx is done
func (rl *RepoLock) LockContext(ctx context.Context, retryDelay time.Duration) error {
	locked, err := rl.lockFile.TryLockContext(ctx, retryDelay)
	if err != nil {
		return fmt.Errorf("failed to acquire repository lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another loomctl cleanup is already running in this repository")
	}
	return nil
}

// Unlock releases the repository lock and removes the lock file
func (rl *RepoLock) Unlock() error {
	if rl.lockFile == nil {
		return nil
	}

	if err := rl.lockFile.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}

	if err := os.Remove(rl.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}

	return nil
}

// GetLockPath returns the path to the lock file
func (rl *RepoLock) GetLockPath() string {
	return rl.lockPath
}

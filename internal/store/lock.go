package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
)

// LockFileName is the writer lock inside an index directory.
const LockFileName = "write.lock"

// dirLock guarantees a single writer process per index directory.
type dirLock struct {
	flock  *flock.Flock
	locked bool
}

// lockDir takes the writer lock for dir without blocking.
func lockDir(dir string) (*dirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wserrors.DirectoryOpenError(dir, fmt.Errorf("failed to create index directory: %w", err))
	}

	l := &dirLock{flock: flock.New(filepath.Join(dir, LockFileName))}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return nil, wserrors.DirectoryOpenError(dir, fmt.Errorf("failed to acquire lock: %w", err))
	}
	if !acquired {
		return nil, wserrors.New(wserrors.ErrCodeDirectoryLocked,
			fmt.Sprintf("index directory %s is locked by another writer", dir), nil).
			WithDetail("dir", dir).
			WithSuggestion("stop the other wikisearch process or list this directory as read-only")
	}
	l.locked = true
	return l, nil
}

// unlock is safe to call more than once.
func (l *dirLock) unlock() error {
	if l == nil || !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

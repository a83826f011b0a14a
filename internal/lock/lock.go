package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock serializes backup and restore operations system-wide. The scheduler
// and operator-issued commands all acquire the same file, so two runs can
// never write into the backup store at the same time.
type Lock struct {
	file *flock.Flock
}

// Acquire obtains the exclusive run lock, failing immediately if another
// backup or restore holds it.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lk := flock.New(path)
	ok, err := lk.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("another backup/restore is already running (lock: %s)", path)
	}
	return &Lock{file: lk}, nil
}

// Release frees the lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Unlock()
}

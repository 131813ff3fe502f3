package checksum

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const lockFileName = ".ingest.lock"

// ErrLocked is returned when another run holds the checksum root.
var ErrLocked = errors.New("checksum root is locked by another run")

// Locker is implemented by stores that can serialise runs over one root.
type Locker interface {
	Lock(ctx context.Context, root, owner string) (release func() error, err error)
}

// Lock takes an exclusive lock file in root. The returned release func
// removes it. A lock left behind by a crashed run has to be removed with
// Unlock.
func (s *FileStore) Lock(_ context.Context, root, owner string) (func() error, error) {
	if err := s.fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create checksum root %s: %w", root, err)
	}

	path := filepath.Join(root, lockFileName)
	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("create lock %s: %w", path, err)
	}
	_, writeErr := f.Write([]byte(owner))
	if err := f.Close(); err != nil && writeErr == nil {
		writeErr = err
	}
	if writeErr != nil {
		_ = s.fs.Remove(path)
		return nil, fmt.Errorf("write lock %s: %w", path, writeErr)
	}

	return func() error {
		if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("release lock %s: %w", path, err)
		}
		return nil
	}, nil
}

// Unlock removes a lock file regardless of its owner.
func (s *FileStore) Unlock(root string) error {
	path := filepath.Join(root, lockFileName)
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock %s: %w", path, err)
	}
	return nil
}

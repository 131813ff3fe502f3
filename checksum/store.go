package checksum

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// ErrNotFound is returned by Load when no record exists for a key.
var ErrNotFound = errors.New("checksum record not found")

// Store persists the last fingerprint seen for each source file.
type Store interface {
	Load(ctx context.Context, key Key) (Fingerprint, error)
	Save(ctx context.Context, key Key, fp Fingerprint) error
	// Clear removes every record in one namespace and reports how many were deleted.
	Clear(ctx context.Context, root, namespace string) (int, error)
}

// FileStore keeps one small side-file per source file on a go-billy
// filesystem. Writes go through a temp file and a rename so a record is either
// the old fingerprint or the new one, never a partial write.
type FileStore struct {
	fs billy.Filesystem
}

func NewFileStore(fsys billy.Filesystem) *FileStore {
	return &FileStore{fs: fsys}
}

func (s *FileStore) Load(_ context.Context, key Key) (Fingerprint, error) {
	data, err := util.ReadFile(s.fs, key.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read record %s: %w", key.Path(), err)
	}
	return Fingerprint(strings.TrimSpace(string(data))), nil
}

func (s *FileStore) Save(_ context.Context, key Key, fp Fingerprint) error {
	dir := key.Dir()
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checksum dir %s: %w", dir, err)
	}
	if err := writeAtomic(s.fs, key.Path(), []byte(fp)); err != nil {
		return fmt.Errorf("write record %s: %w", key.Path(), err)
	}
	return nil
}

func (s *FileStore) Clear(_ context.Context, root, namespace string) (int, error) {
	dir := filepath.Join(root, namespace)
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("list checksum dir %s: %w", dir, err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordSuffix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := s.fs.Remove(path); err != nil {
			return removed, fmt.Errorf("remove record %s: %w", path, err)
		}
		removed++
	}
	return removed, nil
}

func writeAtomic(fsys billy.Filesystem, path string, data []byte) error {
	tmp, err := fsys.TempFile(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = fsys.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = fsys.Remove(tmpName)
		return err
	}
	if err := fsys.Rename(tmpName, path); err != nil {
		_ = fsys.Remove(tmpName)
		return err
	}
	return nil
}

package checksum

import (
	"path"
	"path/filepath"
)

const (
	recordSuffix      = ".checksum"
	defaultRootSuffix = "_checksum"
)

// Key identifies the record of one source file. Namespace is the name of the
// file's immediate parent directory and Name is the file's base name.
type Key struct {
	Root      string
	Namespace string
	Name      string
}

// Path is the on-disk location of the record: <root>/<namespace>/<name>.checksum.
func (k Key) Path() string {
	return filepath.Join(k.Root, k.Namespace, k.Name+recordSuffix)
}

// Dir is the namespace directory holding the record.
func (k Key) Dir() string {
	return filepath.Join(k.Root, k.Namespace)
}

// ObjectName is the slash-separated record name relative to the root, used by
// object-store backends.
func (k Key) ObjectName() string {
	return path.Join(filepath.ToSlash(k.Namespace), k.Name+recordSuffix)
}

// Layout derives record keys from source file paths. An empty Root selects the
// per-file default, a "_checksum" sibling of the file's data directory.
type Layout struct {
	Root string
}

func (l Layout) KeyFor(sourcePath string) Key {
	dir := filepath.Dir(filepath.Clean(sourcePath))
	return Key{
		Root:      l.RootFor(dir),
		Namespace: filepath.Base(dir),
		Name:      filepath.Base(sourcePath),
	}
}

// RootFor returns the checksum root used for files living directly in dataDir.
func (l Layout) RootFor(dataDir string) string {
	if l.Root != "" {
		return filepath.Clean(l.Root)
	}
	return DefaultRoot(dataDir)
}

// DefaultRoot maps /data/odoo/partners to /data/odoo_checksum.
func DefaultRoot(dataDir string) string {
	return filepath.Dir(filepath.Clean(dataDir)) + defaultRootSuffix
}

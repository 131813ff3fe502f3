package ingestion

import (
	"fmt"
	"iter"
	"log"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
)

// Scanner walks a folder tree and yields the files whose extension is allowed.
// Entries of each directory are visited in name order.
type Scanner struct {
	fs     billy.Filesystem
	exts   map[string]struct{}
	logger *log.Logger
	err    error
}

func NewScanner(fsys billy.Filesystem, exts []string, logger *log.Logger) *Scanner {
	if logger == nil {
		logger = log.Default()
	}

	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range NormalizeExtensions(exts) {
		allowed[ext] = struct{}{}
	}

	return &Scanner{fs: fsys, exts: allowed, logger: logger}
}

// Allowed reports whether path has one of the scanner's extensions,
// ignoring case.
func (s *Scanner) Allowed(path string) bool {
	_, ok := s.exts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Files lazily yields absolute paths of candidate files under root. A missing
// or unreadable root yields nothing; the condition is reported by Err.
func (s *Scanner) Files(root string) iter.Seq[string] {
	return func(yield func(string) bool) {
		s.err = nil

		if !filepath.IsAbs(root) {
			abs, err := filepath.Abs(root)
			if err != nil {
				s.err = &ConfigurationError{Reason: fmt.Sprintf("resolve data folder %q", root), Err: err}
				return
			}
			root = abs
		}
		root = filepath.Clean(root)

		info, err := s.fs.Stat(root)
		if err != nil {
			s.err = &ConfigurationError{Reason: fmt.Sprintf("data folder %s", root), Err: err}
			return
		}
		if !info.IsDir() {
			s.err = &ConfigurationError{Reason: fmt.Sprintf("data folder %s is not a directory", root)}
			return
		}

		entries, err := s.readDir(root)
		if err != nil {
			s.err = &ConfigurationError{Reason: fmt.Sprintf("read data folder %s", root), Err: err}
			return
		}
		s.walk(root, entries, yield)
	}
}

// Err returns the condition that stopped the last walk early, if any.
func (s *Scanner) Err() error {
	return s.err
}

func (s *Scanner) walk(dir string, entries []fileEntry, yield func(string) bool) bool {
	for _, entry := range entries {
		path := filepath.Join(dir, entry.name)
		if entry.dir {
			children, err := s.readDir(path)
			if err != nil {
				s.logger.Printf("skip unreadable directory %s: %v", path, err)
				continue
			}
			if !s.walk(path, children, yield) {
				return false
			}
			continue
		}
		if !entry.regular || !s.Allowed(path) {
			continue
		}
		if !yield(path) {
			return false
		}
	}
	return true
}

type fileEntry struct {
	name    string
	dir     bool
	regular bool
}

func (s *Scanner) readDir(dir string) ([]fileEntry, error) {
	infos, err := s.fs.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]fileEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, fileEntry{
			name:    info.Name(),
			dir:     info.IsDir(),
			regular: info.Mode().IsRegular(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	return entries, nil
}

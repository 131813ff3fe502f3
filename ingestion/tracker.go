package ingestion

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/fabfab/go-ingest/checksum"
)

// Classification is the outcome of comparing a file against its record.
type Classification int

const (
	New Classification = iota
	Changed
	Unchanged
)

func (c Classification) String() string {
	switch c {
	case New:
		return "new"
	case Changed:
		return "changed"
	case Unchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// SourceFile is a candidate file read into memory for one run.
type SourceFile struct {
	Path    string
	Folder  string
	Name    string
	Content []byte
}

// LoadSourceFile reads path from fsys.
func LoadSourceFile(fsys billy.Basic, path string) (SourceFile, error) {
	content, err := util.ReadFile(fsys, path)
	if err != nil {
		return SourceFile{}, &FilesystemError{Op: "read source", Path: path, Err: err}
	}
	return SourceFile{
		Path:    path,
		Folder:  filepath.Base(filepath.Dir(path)),
		Name:    filepath.Base(path),
		Content: content,
	}, nil
}

// Decision is the classification of one file in one run.
type Decision struct {
	Path        string
	Key         checksum.Key
	Fingerprint checksum.Fingerprint
	// Previous is empty for new files.
	Previous checksum.Fingerprint
	Class    Classification
}

// ShouldProcess is true for new and changed files.
func (d Decision) ShouldProcess() bool {
	return d.Class == New || d.Class == Changed
}

// Tracker classifies files against the fingerprint store.
type Tracker struct {
	store  checksum.Store
	layout checksum.Layout
}

func NewTracker(store checksum.Store, layout checksum.Layout) *Tracker {
	return &Tracker{store: store, layout: layout}
}

// Classify compares the file with its record and, for new and changed files,
// writes the new fingerprint before returning. The write is part of the
// classification: a nil error means the store already reflects the decision.
func (t *Tracker) Classify(ctx context.Context, file SourceFile) (Decision, error) {
	decision, err := t.evaluate(ctx, file)
	if err != nil {
		return Decision{}, err
	}
	if !decision.ShouldProcess() {
		return decision, nil
	}

	if err := t.store.Save(ctx, decision.Key, decision.Fingerprint); err != nil {
		return Decision{}, &FilesystemError{Op: "write record", Path: decision.Key.Path(), Err: err}
	}
	return decision, nil
}

// Peek classifies the file without touching the store.
func (t *Tracker) Peek(ctx context.Context, file SourceFile) (Decision, error) {
	return t.evaluate(ctx, file)
}

func (t *Tracker) evaluate(ctx context.Context, file SourceFile) (Decision, error) {
	fp, err := checksum.Compute(bytes.NewReader(file.Content))
	if err != nil {
		return Decision{}, &FilesystemError{Op: "fingerprint", Path: file.Path, Err: err}
	}

	key := t.layout.KeyFor(file.Path)
	decision := Decision{Path: file.Path, Key: key, Fingerprint: fp}

	previous, err := t.store.Load(ctx, key)
	switch {
	case errors.Is(err, checksum.ErrNotFound):
		decision.Class = New
	case err != nil:
		return Decision{}, &FilesystemError{Op: "read record", Path: key.Path(), Err: err}
	case previous != fp:
		decision.Previous = previous
		decision.Class = Changed
	default:
		decision.Previous = previous
		decision.Class = Unchanged
	}
	return decision, nil
}

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"

	"github.com/fabfab/go-ingest/checksum"
)

// FolderResolver maps a named data source to its root folder.
type FolderResolver interface {
	DataFolder(source string) (string, error)
}

// Recorder receives the report of every finished run, successful or not.
type Recorder interface {
	Record(ctx context.Context, report *RunReport) error
}

// Request selects the files of one run: <source root>/<folder>, filtered by
// extension.
type Request struct {
	Source     string
	Folder     string
	Extensions []string
}

// FileFailure is a per-file error that did not stop the run.
type FileFailure struct {
	Path string
	Err  error
}

type RunReport struct {
	RunID      uuid.UUID
	Source     string
	Folder     string
	Root       string
	Extensions []string
	StartedAt  time.Time
	FinishedAt time.Time

	Decisions []Decision
	Documents []Document
	Failures  []FileFailure
}

// Count returns the number of decisions with the given classification.
func (r *RunReport) Count(c Classification) int {
	n := 0
	for _, d := range r.Decisions {
		if d.Class == c {
			n++
		}
	}
	return n
}

type Service struct {
	fs        billy.Filesystem
	folders   FolderResolver
	store     checksum.Store
	layout    checksum.Layout
	tracker   *Tracker
	recorders []Recorder
	logger    *log.Logger
}

func NewService(fsys billy.Filesystem, folders FolderResolver, store checksum.Store, layout checksum.Layout, logger *log.Logger, recorders ...Recorder) *Service {
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		fs:        fsys,
		folders:   folders,
		store:     store,
		layout:    layout,
		tracker:   NewTracker(store, layout),
		recorders: recorders,
		logger:    logger,
	}
}

// Run classifies every candidate file of the request and parses the new and
// changed ones. Configuration problems are logged and produce an empty report
// with a nil error. Store failures stop the run; the partial report is
// returned alongside the error.
func (s *Service) Run(ctx context.Context, req Request) (*RunReport, error) {
	report := newReport(req)

	root, parsers, err := s.prepare(req)
	if err != nil {
		return s.abandon(report, err)
	}
	report.Root = root

	if locker, ok := s.store.(checksum.Locker); ok {
		lockRoot := s.layout.RootFor(root)
		release, err := locker.Lock(ctx, lockRoot, report.RunID.String())
		if err != nil {
			report.FinishedAt = time.Now().UTC()
			if errors.Is(err, checksum.ErrLocked) {
				return report, err
			}
			return report, &FilesystemError{Op: "lock checksum root", Path: lockRoot, Err: err}
		}
		defer func() {
			if err := release(); err != nil {
				s.logger.Printf("release lock: %v", err)
			}
		}()
	}

	runErr := s.sweep(ctx, root, report, func(file SourceFile) error {
		decision, err := s.tracker.Classify(ctx, file)
		if err != nil {
			return err
		}
		report.Decisions = append(report.Decisions, decision)

		if !decision.ShouldProcess() {
			s.logger.Printf("skip unchanged %s", file.Path)
			return nil
		}

		s.logger.Printf("processing %s file %s", decision.Class, file.Path)
		parser := parsers[strings.ToLower(filepath.Ext(file.Path))]
		doc, err := parser.Parse(ctx, file)
		if err != nil {
			s.logger.Printf("parse failed for %s: %v", file.Path, err)
			report.Failures = append(report.Failures, FileFailure{Path: file.Path, Err: err})
			return nil
		}
		doc.Class = decision.Class
		report.Documents = append(report.Documents, *doc)
		return nil
	})
	report.FinishedAt = time.Now().UTC()

	if runErr != nil {
		s.logger.Printf("run %s stopped: %v", report.RunID, runErr)
	} else {
		s.logger.Printf("run %s finished: %d new, %d changed, %d unchanged, %d failed",
			report.RunID, report.Count(New), report.Count(Changed), report.Count(Unchanged), len(report.Failures))
	}

	s.record(ctx, report)
	return report, runErr
}

// Status classifies candidate files without writing records or parsing.
func (s *Service) Status(ctx context.Context, req Request) (*RunReport, error) {
	report := newReport(req)

	root, _, err := s.prepare(req)
	if err != nil {
		return s.abandon(report, err)
	}
	report.Root = root

	err = s.sweep(ctx, root, report, func(file SourceFile) error {
		decision, err := s.tracker.Peek(ctx, file)
		if err != nil {
			return err
		}
		report.Decisions = append(report.Decisions, decision)
		return nil
	})
	report.FinishedAt = time.Now().UTC()
	return report, err
}

// Clear deletes the records of the files directly inside the request folder.
// With unlock set, a lock left by a crashed run is removed as well.
func (s *Service) Clear(ctx context.Context, req Request, unlock bool) (int, error) {
	root, err := s.dataRoot(req)
	if err != nil {
		return 0, err
	}

	checksumRoot := s.layout.RootFor(root)
	removed, err := s.store.Clear(ctx, checksumRoot, filepath.Base(root))
	if err != nil {
		return removed, &FilesystemError{Op: "clear records", Path: filepath.Join(checksumRoot, filepath.Base(root)), Err: err}
	}

	if unlock {
		if fileStore, ok := s.store.(*checksum.FileStore); ok {
			if err := fileStore.Unlock(checksumRoot); err != nil {
				return removed, &FilesystemError{Op: "unlock", Path: checksumRoot, Err: err}
			}
		}
	}

	s.logger.Printf("cleared %d records under %s", removed, checksumRoot)
	return removed, nil
}

func newReport(req Request) *RunReport {
	return &RunReport{
		RunID:      uuid.New(),
		Source:     req.Source,
		Folder:     req.Folder,
		Extensions: NormalizeExtensions(req.Extensions),
		StartedAt:  time.Now().UTC(),
	}
}

func (s *Service) abandon(report *RunReport, err error) (*RunReport, error) {
	report.FinishedAt = time.Now().UTC()

	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		s.logger.Printf("nothing to ingest: %v", err)
		return report, nil
	}
	return report, err
}

func (s *Service) prepare(req Request) (string, map[string]Parser, error) {
	parsers, err := ResolveParsers(req.Extensions)
	if err != nil {
		return "", nil, err
	}

	root, err := s.dataRoot(req)
	if err != nil {
		return "", nil, err
	}

	info, err := s.fs.Stat(root)
	if err != nil {
		return "", nil, &ConfigurationError{Reason: fmt.Sprintf("data folder %s", root), Err: err}
	}
	if !info.IsDir() {
		return "", nil, &ConfigurationError{Reason: fmt.Sprintf("data folder %s is not a directory", root)}
	}

	return root, parsers, nil
}

func (s *Service) dataRoot(req Request) (string, error) {
	if s.folders == nil {
		return "", &ConfigurationError{Reason: "no data folder resolver"}
	}
	base, err := s.folders.DataFolder(req.Source)
	if err != nil {
		return "", &ConfigurationError{Reason: "invalid config path", Err: err}
	}
	if strings.Contains(filepath.ToSlash(req.Folder), "..") {
		return "", &ConfigurationError{Reason: fmt.Sprintf("folder %q escapes the data root", req.Folder)}
	}

	root := filepath.Join(base, req.Folder)
	if !filepath.IsAbs(root) {
		abs, err := filepath.Abs(root)
		if err != nil {
			return "", &ConfigurationError{Reason: fmt.Sprintf("resolve data folder %q", root), Err: err}
		}
		root = abs
	}
	return root, nil
}

// sweep feeds every readable candidate file to visit. Unreadable files are
// recorded as failures; an error from visit stops the sweep.
func (s *Service) sweep(ctx context.Context, root string, report *RunReport, visit func(SourceFile) error) error {
	scanner := NewScanner(s.fs, report.Extensions, s.logger)

	for path := range scanner.Files(root) {
		if err := ctx.Err(); err != nil {
			return err
		}

		file, err := LoadSourceFile(s.fs, path)
		if err != nil {
			s.logger.Printf("read failed for %s: %v", path, err)
			report.Failures = append(report.Failures, FileFailure{Path: path, Err: err})
			continue
		}

		if err := visit(file); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		s.logger.Printf("scan %s: %v", root, err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, report *RunReport) {
	for _, rec := range s.recorders {
		if err := rec.Record(ctx, report); err != nil {
			s.logger.Printf("record run %s: %v", report.RunID, err)
		}
	}
}

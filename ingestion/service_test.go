package ingestion

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/go-ingest/checksum"
	"github.com/fabfab/go-ingest/config"
)

var testFolders = config.Config{OdooPath: "/data/odoo", OpenMRSPath: "/data/openmrs"}

func newTestService(fsys billy.Filesystem, recorders ...Recorder) (*Service, *checksum.FileStore) {
	store := checksum.NewFileStore(fsys)
	return NewService(fsys, testFolders, store, checksum.Layout{}, quietLogger, recorders...), store
}

func partnersRequest() Request {
	return Request{Source: "odoo", Folder: "partners", Extensions: []string{".csv"}}
}

type captureRecorder struct {
	reports []*RunReport
	err     error
}

func (c *captureRecorder) Record(_ context.Context, report *RunReport) error {
	c.reports = append(c.reports, report)
	return c.err
}

// failMkdirFS refuses to create one directory.
type failMkdirFS struct {
	billy.Filesystem
	dir string
}

func (f failMkdirFS) MkdirAll(path string, perm os.FileMode) error {
	if path == f.dir {
		return &os.PathError{Op: "mkdir", Path: path, Err: os.ErrPermission}
	}
	return f.Filesystem.MkdirAll(path, perm)
}

// unreadableFS fails to open one file.
type unreadableFS struct {
	billy.Filesystem
	path string
}

func (f unreadableFS) Open(name string) (billy.File, error) {
	if name == f.path {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	return f.Filesystem.Open(name)
}

func TestServiceRunLifecycle(t *testing.T) {
	ctx := context.Background()
	fsys := memfs.New()
	writeFiles(t, fsys, map[string]string{
		"/data/odoo/partners/a.csv":  "id,name\n1,Ann\n",
		"/data/odoo/partners/b.csv":  "id,name\n2,Bob\n",
		"/data/odoo/partners/c.txt":  "ignored",
		"/data/odoo/customers/z.csv": "id\n9\n",
	})
	svc, _ := newTestService(fsys)

	first, err := svc.Run(ctx, partnersRequest())
	require.NoError(t, err)
	assert.Equal(t, "/data/odoo/partners", first.Root)
	assert.Equal(t, 2, first.Count(New))
	require.Len(t, first.Documents, 2)
	assert.Equal(t, "/data/odoo/partners/a.csv", first.Documents[0].Path)
	assert.Equal(t, New, first.Documents[0].Class)
	assert.Equal(t, "Ann", first.Documents[0].Table.Rows[0]["name"])

	for _, name := range []string{"a.csv", "b.csv"} {
		_, err := fsys.Stat("/data/odoo_checksum/partners/" + name + ".checksum")
		assert.NoError(t, err, name)
	}

	second, err := svc.Run(ctx, partnersRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, second.Count(Unchanged))
	assert.Empty(t, second.Documents)

	require.NoError(t, util.WriteFile(fsys, "/data/odoo/partners/b.csv", []byte("id,name\n2,Bob\n3,Cy\n"), 0o644))

	third, err := svc.Run(ctx, partnersRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, third.Count(Unchanged))
	assert.Equal(t, 1, third.Count(Changed))
	require.Len(t, third.Documents, 1)
	assert.Equal(t, "/data/odoo/partners/b.csv", third.Documents[0].Path)
	assert.Equal(t, Changed, third.Documents[0].Class)
	assert.Len(t, third.Documents[0].Table.Rows, 2)

	_, err = fsys.Stat("/data/odoo_checksum/.ingest.lock")
	assert.ErrorIs(t, err, os.ErrNotExist, "lock is released after the run")
}

func TestServiceRunConfigurationErrorsYieldEmptyReport(t *testing.T) {
	fsys := memfs.New()
	writeFiles(t, fsys, map[string]string{"/data/odoo/partners/a.csv": "id\n"})
	svc, _ := newTestService(fsys)

	cases := map[string]Request{
		"unknown source":  {Source: "erpnext", Folder: "partners", Extensions: []string{".csv"}},
		"missing root":    {Source: "openmrs", Folder: "missing", Extensions: []string{".csv"}},
		"missing folder":  {Source: "odoo", Folder: "nope", Extensions: []string{".csv"}},
		"no parser":       {Source: "odoo", Folder: "partners", Extensions: []string{".json"}},
		"escaping folder": {Source: "odoo", Folder: "../etc", Extensions: []string{".csv"}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			report, err := svc.Run(context.Background(), req)
			require.NoError(t, err)
			assert.Empty(t, report.Decisions)
			assert.Empty(t, report.Documents)
		})
	}

	_, err := fsys.Stat("/data/odoo_checksum")
	assert.ErrorIs(t, err, os.ErrNotExist, "nothing is written for rejected runs")
}

func TestServiceRunFailsWhenNamespaceCannotBeCreated(t *testing.T) {
	mem := memfs.New()
	writeFiles(t, mem, map[string]string{"/data/odoo/partners/a.csv": "id\n"})
	fsys := failMkdirFS{Filesystem: mem, dir: "/data/odoo_checksum/partners"}
	svc, _ := newTestService(fsys)

	report, err := svc.Run(context.Background(), partnersRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrPermission)

	var fsErr *FilesystemError
	require.True(t, errors.As(err, &fsErr))
	assert.Equal(t, "write record", fsErr.Op)
	assert.Empty(t, report.Decisions)
	assert.Empty(t, report.Documents)

	_, statErr := mem.Stat("/data/odoo_checksum/partners/a.csv.checksum")
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestServiceRunRefusesLockedRoot(t *testing.T) {
	ctx := context.Background()
	fsys := memfs.New()
	writeFiles(t, fsys, map[string]string{"/data/odoo/partners/a.csv": "id\n"})
	svc, store := newTestService(fsys)

	release, err := store.Lock(ctx, "/data/odoo_checksum", "other-run")
	require.NoError(t, err)

	report, err := svc.Run(ctx, partnersRequest())
	require.ErrorIs(t, err, checksum.ErrLocked)
	assert.Empty(t, report.Decisions)

	require.NoError(t, release())

	report, err = svc.Run(ctx, partnersRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(New))
}

func TestServiceRunRecordsUnreadableFileAndContinues(t *testing.T) {
	mem := memfs.New()
	writeFiles(t, mem, map[string]string{
		"/data/odoo/partners/a.csv": "id\n1\n",
		"/data/odoo/partners/b.csv": "id\n2\n",
	})
	fsys := unreadableFS{Filesystem: mem, path: "/data/odoo/partners/a.csv"}
	svc, _ := newTestService(fsys)

	report, err := svc.Run(context.Background(), partnersRequest())
	require.NoError(t, err)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, "/data/odoo/partners/a.csv", report.Failures[0].Path)
	assert.ErrorIs(t, report.Failures[0].Err, os.ErrPermission)
	assert.Equal(t, 1, report.Count(New))
	require.Len(t, report.Documents, 1)
	assert.Equal(t, "/data/odoo/partners/b.csv", report.Documents[0].Path)
}

func TestServiceRunRecordsParseFailure(t *testing.T) {
	fsys := memfs.New()
	writeFiles(t, fsys, map[string]string{
		"/data/odoo/partners/bad.xml":  "<a><b></a>",
		"/data/odoo/partners/good.xml": "<a><b>1</b></a>",
	})
	svc, _ := newTestService(fsys)

	report, err := svc.Run(context.Background(), Request{Source: "ODOO", Folder: "partners", Extensions: []string{"xml"}})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Count(New))
	require.Len(t, report.Failures, 1)
	var formatErr *FormatError
	assert.True(t, errors.As(report.Failures[0].Err, &formatErr))
	require.Len(t, report.Documents, 1)
	assert.Equal(t, "1", report.Documents[0].Tree.Find("b")[0].Text)
}

func TestServiceRunInvokesRecorders(t *testing.T) {
	fsys := memfs.New()
	writeFiles(t, fsys, map[string]string{"/data/odoo/partners/a.csv": "id\n"})
	failing := &captureRecorder{err: errors.New("ledger down")}
	capture := &captureRecorder{}
	svc, _ := newTestService(fsys, failing, capture)

	report, err := svc.Run(context.Background(), partnersRequest())
	require.NoError(t, err, "recorder errors do not fail the run")

	require.Len(t, capture.reports, 1)
	assert.Same(t, report, capture.reports[0])
	assert.Len(t, failing.reports, 1)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestServiceRunStopsOnCancelledContext(t *testing.T) {
	fsys := memfs.New()
	writeFiles(t, fsys, map[string]string{"/data/odoo/partners/a.csv": "id\n"})
	svc, store := newTestService(fsys)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := svc.Run(ctx, partnersRequest())
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Decisions)

	_, err = store.Load(context.Background(), checksum.Key{Root: "/data/odoo_checksum", Namespace: "partners", Name: "a.csv"})
	assert.ErrorIs(t, err, checksum.ErrNotFound)
}

func TestServiceStatusDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	fsys := memfs.New()
	writeFiles(t, fsys, map[string]string{"/data/odoo/partners/a.csv": "id\n"})
	svc, _ := newTestService(fsys)

	status, err := svc.Status(ctx, partnersRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, status.Count(New))

	status, err = svc.Status(ctx, partnersRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, status.Count(New))

	_, err = svc.Run(ctx, partnersRequest())
	require.NoError(t, err)

	status, err = svc.Status(ctx, partnersRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, status.Count(Unchanged))
}

func TestServiceClearForgetsRecordsAndStaleLock(t *testing.T) {
	ctx := context.Background()
	fsys := memfs.New()
	writeFiles(t, fsys, map[string]string{
		"/data/odoo/partners/a.csv": "id\n1\n",
		"/data/odoo/partners/b.csv": "id\n2\n",
	})
	svc, store := newTestService(fsys)

	_, err := svc.Run(ctx, partnersRequest())
	require.NoError(t, err)

	_, err = store.Lock(ctx, "/data/odoo_checksum", "crashed-run")
	require.NoError(t, err)

	removed, err := svc.Clear(ctx, partnersRequest(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	report, err := svc.Run(ctx, partnersRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(New))
}

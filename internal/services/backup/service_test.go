package backup

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/fgeck/qbak/internal/backuperr"
	"github.com/fgeck/qbak/internal/config"
	"github.com/fgeck/qbak/internal/models"
	"github.com/fgeck/qbak/internal/services/copier"
	"github.com/fgeck/qbak/internal/services/interrupt"
	"github.com/fgeck/qbak/internal/services/naming"
	"github.com/fgeck/qbak/internal/services/progress"
	"github.com/fgeck/qbak/internal/services/registry"
	"github.com/fgeck/qbak/internal/services/walker"
	"github.com/fgeck/qbak/internal/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stamp = "20250115T103000"

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func fixedClock() time.Time {
	return time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
}

func plentyOfSpace(string) (uint64, error) {
	return 1 << 40, nil
}

type mockWalker struct {
	copyTreeFunc func(srcDir, dstDir string, cfg models.Config, result *models.BackupResult, reporter progress.Reporter) error
	countFunc    func(src string, cfg models.Config, reporter progress.Reporter) (int, int64, error)
	sizeFunc     func(path string, cfg models.Config) (int64, error)
}

func (m *mockWalker) CopyTree(srcDir, dstDir string, cfg models.Config, result *models.BackupResult, reporter progress.Reporter) error {
	if m.copyTreeFunc != nil {
		return m.copyTreeFunc(srcDir, dstDir, cfg, result, reporter)
	}
	return nil
}

func (m *mockWalker) Count(src string, cfg models.Config, reporter progress.Reporter) (int, int64, error) {
	if m.countFunc != nil {
		return m.countFunc(src, cfg, reporter)
	}
	return 0, 0, nil
}

func (m *mockWalker) CalculateSize(path string, cfg models.Config) (int64, error) {
	if m.sizeFunc != nil {
		return m.sizeFunc(path, cfg)
	}
	return 0, nil
}

type tripAfter struct {
	n     int
	polls int
}

func (c *tripAfter) IsInterrupted() bool {
	c.polls++
	return c.polls >= c.n
}

// newService wires real collaborators around a fixed clock and checker.
func newService(t *testing.T, checker interrupt.Checker) (*Impl, *registry.Registry) {
	t.Helper()
	logger := testLogger()
	reg := registry.New(logger, checker)
	copierSvc := copier.New(logger, checker)
	svc := NewWithServices(
		logger,
		naming.NewWithClock(fixedClock),
		copierSvc,
		walker.New(logger, checker, copierSvc),
		reg,
		checker,
		plentyOfSpace,
	)
	return svc, reg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNew(t *testing.T) {
	sess := session.New(testLogger())
	svc := New(testLogger(), sess)

	assert.NotNil(t, svc)
	assert.Same(t, sess.Registry(), svc.registry)
	assert.NotNil(t, svc.copier)
	assert.NotNil(t, svc.walker)
}

func TestBackupFile(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "test.txt")
	writeFile(t, source, "Hello, World!\n")

	svc, reg := newService(t, nil)
	result, err := svc.BackupFile(source, config.Default())

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "test-"+stamp+"-qbak.txt"), result.BackupPath)
	assert.Equal(t, source, result.SourcePath)
	assert.Equal(t, 1, result.FilesProcessed)
	assert.Equal(t, int64(14), result.TotalSize)

	content, err := os.ReadFile(result.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!\n", string(content))
	assert.Empty(t, reg.ActivePaths())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestBackupFile_PreservesMode(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "run.sh")
	writeFile(t, source, "#!/bin/sh\n")
	require.NoError(t, os.Chmod(source, 0o750))

	svc, _ := newService(t, nil)
	result, err := svc.BackupFile(source, config.Default())
	require.NoError(t, err)

	info, err := os.Stat(result.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
}

func TestBackupFile_Collision(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "notes.md")
	writeFile(t, source, "draft")
	writeFile(t, filepath.Join(dir, "notes-"+stamp+"-qbak.md"), "older")

	svc, _ := newService(t, nil)
	result, err := svc.BackupFile(source, config.Default())

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "notes-"+stamp+"-qbak-1.md"), result.BackupPath)

	second, err := svc.BackupFile(source, config.Default())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "notes-"+stamp+"-qbak-2.md"), second.BackupPath)
}

func TestBackupFile_Errors(t *testing.T) {
	dir := t.TempDir()
	svc, reg := newService(t, nil)

	t.Run("missing source", func(t *testing.T) {
		_, err := svc.BackupFile(filepath.Join(dir, "missing.txt"), config.Default())
		assert.Equal(t, backuperr.KindSourceNotFound, backuperr.KindOf(err))
		assert.True(t, backuperr.IsRecoverable(err))
	})

	t.Run("directory source", func(t *testing.T) {
		_, err := svc.BackupFile(dir, config.Default())
		assert.Equal(t, backuperr.KindValidation, backuperr.KindOf(err))
	})

	t.Run("name too long", func(t *testing.T) {
		source := filepath.Join(dir, "report.txt")
		writeFile(t, source, "x")
		cfg := config.Default()
		cfg.MaxFilenameLength = 10

		_, err := svc.BackupFile(source, cfg)

		assert.Equal(t, backuperr.KindFilenameTooLong, backuperr.KindOf(err))
		entries, readErr := os.ReadDir(dir)
		require.NoError(t, readErr)
		assert.Len(t, entries, 1)
	})

	assert.Empty(t, reg.ActivePaths())
}

func TestBackupFile_InsufficientSpace(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "big.bin")
	writeFile(t, source, "0123456789")

	logger := testLogger()
	copierSvc := copier.New(logger, nil)
	svc := NewWithServices(logger, naming.NewWithClock(fixedClock), copierSvc,
		walker.New(logger, nil, copierSvc), registry.New(logger, nil), nil,
		func(string) (uint64, error) { return 5, nil })

	_, err := svc.BackupFile(source, config.Default())

	var be *backuperr.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, backuperr.KindInsufficientSpace, be.Kind)
	assert.Equal(t, uint64(11), be.Needed)
	assert.Equal(t, uint64(5), be.Have)
	assert.NoFileExists(t, filepath.Join(dir, "big-"+stamp+"-qbak.bin"))
}

func TestBackupFile_Interrupted(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "data.csv")
	writeFile(t, source, "a,b,c\n")

	ctrl := interrupt.New()
	ctrl.RequestInterrupt()
	svc, reg := newService(t, ctrl)

	_, err := svc.BackupFile(source, config.Default())

	assert.ErrorIs(t, err, backuperr.ErrInterrupted)
	dest := filepath.Join(dir, "data-"+stamp+"-qbak.csv")
	assert.Equal(t, []string{dest}, reg.ActivePaths())
	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, copier.TempPath(dest, os.Getpid()))

	reg.Cleanup(true)
	assert.Empty(t, reg.ActivePaths())
}

func TestBackupDirectory(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "project")
	writeFile(t, filepath.Join(source, "file1.txt"), "one")
	writeFile(t, filepath.Join(source, "file2.txt"), "two")
	writeFile(t, filepath.Join(source, "subdir", "file3.txt"), "three")

	svc, reg := newService(t, nil)
	result, err := svc.BackupDirectory(source, config.Default(), Options{})

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "project-"+stamp+"-qbak"), result.BackupPath)
	assert.Equal(t, 3, result.FilesProcessed)
	assert.Equal(t, int64(11), result.TotalSize)
	assert.FileExists(t, filepath.Join(result.BackupPath, "file1.txt"))
	assert.FileExists(t, filepath.Join(result.BackupPath, "file2.txt"))
	assert.FileExists(t, filepath.Join(result.BackupPath, "subdir", "file3.txt"))
	assert.Empty(t, reg.ActivePaths())
}

func TestBackupDirectory_HiddenExcluded(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "mixed")
	writeFile(t, filepath.Join(source, ".hidden.txt"), "h")
	writeFile(t, filepath.Join(source, "visible.txt"), "v")

	cfg := config.Default()
	cfg.IncludeHidden = false

	svc, _ := newService(t, nil)
	result, err := svc.BackupDirectory(source, cfg, Options{})

	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesProcessed)
	entries, err := os.ReadDir(result.BackupPath)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "visible.txt", entries[0].Name())
}

func TestBackupDirectory_NotADirectory(t *testing.T) {
	source := filepath.Join(t.TempDir(), "file.txt")
	writeFile(t, source, "x")

	svc, _ := newService(t, nil)
	_, err := svc.BackupDirectory(source, config.Default(), Options{})

	assert.Equal(t, backuperr.KindValidation, backuperr.KindOf(err))
}

func TestBackupDirectory_InterruptedThenCleanup(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "album")
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"} {
		writeFile(t, filepath.Join(source, name), name)
	}

	// Count polls once per entry (4), then the copy trips on the second
	// entry, after a.jpg is fully written.
	checker := &tripAfter{n: 8}
	svc, reg := newService(t, checker)

	_, err := svc.BackupDirectory(source, config.Default(), Options{})

	require.ErrorIs(t, err, backuperr.ErrInterrupted)
	dest := filepath.Join(dir, "album-"+stamp+"-qbak")
	assert.Equal(t, []string{dest}, reg.ActivePaths())
	assert.FileExists(t, filepath.Join(dest, "a.jpg"))

	report := reg.Cleanup(true)

	assert.Equal(t, []string{dest}, report.Removed)
	assert.NoDirExists(t, dest)
	assert.Empty(t, reg.ActivePaths())
}

func requireUnprivileged(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
}

// readOnlySource builds data/a_ro (0555, one file) and data/b/g.txt.
func readOnlySource(t *testing.T, dir string) string {
	t.Helper()
	source := filepath.Join(dir, "data")
	locked := filepath.Join(source, "a_ro")
	writeFile(t, filepath.Join(locked, "f.txt"), "f")
	writeFile(t, filepath.Join(source, "b", "g.txt"), "g")
	require.NoError(t, os.Chmod(locked, 0o555))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })
	return source
}

func TestBackupDirectory_InterruptedWithReadOnlySubdir(t *testing.T) {
	requireUnprivileged(t)
	dir := t.TempDir()
	source := readOnlySource(t, dir)

	// Count polls 4 times. The copy then polls for a_ro, f.txt (entry,
	// chunk, EOF) and b, and trips on g.txt after a_ro is already 0555.
	checker := &tripAfter{n: 10}
	svc, reg := newService(t, checker)

	_, err := svc.BackupDirectory(source, config.Default(), Options{})

	require.ErrorIs(t, err, backuperr.ErrInterrupted)
	dest := filepath.Join(dir, "data-"+stamp+"-qbak")
	info, statErr := os.Stat(filepath.Join(dest, "a_ro"))
	require.NoError(t, statErr)
	assert.Equal(t, os.FileMode(0o555), info.Mode().Perm())

	report := reg.Cleanup(true)

	assert.Equal(t, []string{dest}, report.Removed)
	assert.Empty(t, report.Failed)
	assert.NoDirExists(t, dest)
}

func TestBackupDirectory_FailureRemovesReadOnlyPartialTree(t *testing.T) {
	requireUnprivileged(t)
	dir := t.TempDir()
	source := readOnlySource(t, dir)

	walkErr := backuperr.FromOS(source, os.ErrPermission)
	mock := &mockWalker{
		copyTreeFunc: func(_, dstDir string, _ models.Config, _ *models.BackupResult, _ progress.Reporter) error {
			locked := filepath.Join(dstDir, "a_ro")
			writeFile(t, filepath.Join(locked, "f.txt"), "f")
			require.NoError(t, os.Chmod(locked, 0o555))
			return walkErr
		},
	}

	logger := testLogger()
	reg := registry.New(logger, nil)
	svc := NewWithServices(logger, naming.NewWithClock(fixedClock), copier.New(logger, nil), mock, reg, nil, plentyOfSpace)

	_, err := svc.BackupDirectory(source, config.Default(), Options{})

	assert.ErrorIs(t, err, walkErr)
	assert.NoDirExists(t, filepath.Join(dir, "data-"+stamp+"-qbak"))
	assert.Empty(t, reg.ActivePaths())
}

func TestBackupDirectory_FailureRemovesPartialTree(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "src")
	writeFile(t, filepath.Join(source, "a.txt"), "a")

	walkErr := backuperr.FromOS(filepath.Join(source, "a.txt"), os.ErrPermission)
	mock := &mockWalker{
		copyTreeFunc: func(_, dstDir string, _ models.Config, _ *models.BackupResult, _ progress.Reporter) error {
			writeFile(t, filepath.Join(dstDir, "partial.txt"), "p")
			return walkErr
		},
	}

	logger := testLogger()
	reg := registry.New(logger, nil)
	svc := NewWithServices(logger, naming.NewWithClock(fixedClock), copier.New(logger, nil), mock, reg, nil, plentyOfSpace)

	_, err := svc.BackupDirectory(source, config.Default(), Options{})

	assert.ErrorIs(t, err, walkErr)
	assert.NoDirExists(t, filepath.Join(dir, "src-"+stamp+"-qbak"))
	assert.Empty(t, reg.ActivePaths())
}

func TestBackupDirectory_CountError(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "src")
	require.NoError(t, os.Mkdir(source, 0o755))

	mock := &mockWalker{
		countFunc: func(string, models.Config, progress.Reporter) (int, int64, error) {
			return 0, 0, backuperr.SymlinkLoop(source)
		},
		copyTreeFunc: func(string, string, models.Config, *models.BackupResult, progress.Reporter) error {
			t.Fatal("copy must not start after a failed scan")
			return nil
		},
	}

	logger := testLogger()
	svc := NewWithServices(logger, naming.NewWithClock(fixedClock), copier.New(logger, nil), mock, registry.New(logger, nil), nil, plentyOfSpace)

	_, err := svc.BackupDirectory(source, config.Default(), Options{})

	assert.Equal(t, backuperr.KindSymlinkLoop, backuperr.KindOf(err))
	assert.NoDirExists(t, filepath.Join(dir, "src-"+stamp+"-qbak"))
}

func TestBackupDirectory_ForcedProgress(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "docs")
	writeFile(t, filepath.Join(source, "a.txt"), "aaaa")

	cfg := config.Default()
	cfg.Progress.Enabled = true

	var out bytes.Buffer
	svc, _ := newService(t, nil)
	_, err := svc.BackupDirectory(source, cfg, Options{ForceProgress: true, Output: &out})

	require.NoError(t, err)
	assert.Contains(t, out.String(), "[1/1 files]")

	out.Reset()
	_, err = svc.BackupDirectory(source, cfg, Options{ForceProgress: true, Quiet: true, Output: &out})
	require.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestBackup_Dispatch(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "single.txt")
	writeFile(t, file, "one")
	tree := filepath.Join(dir, "tree")
	writeFile(t, filepath.Join(tree, "a.txt"), "a")
	writeFile(t, filepath.Join(tree, "b.txt"), "b")

	svc, _ := newService(t, nil)

	result, err := svc.Backup(file, config.Default(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "Created backup: "+result.BackupPath+" (3 B)", result.Summary())

	result, err = svc.Backup(tree, config.Default(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.FilesProcessed)
	assert.DirExists(t, result.BackupPath)

	_, err = svc.Backup(filepath.Join(dir, "nope"), config.Default(), Options{})
	assert.Equal(t, backuperr.KindSourceNotFound, backuperr.KindOf(err))
}

func TestPlan(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "archive")
	writeFile(t, filepath.Join(source, "x.bin"), "1234567890")
	writeFile(t, filepath.Join(source, "nested", "y.bin"), "12345")

	svc, reg := newService(t, nil)
	plan, err := svc.Plan(source, config.Default())

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "archive-"+stamp+"-qbak"), plan.BackupPath)
	assert.Equal(t, int64(15), plan.TotalSize)
	assert.Equal(t, "Would create backup: "+plan.BackupPath+" (15 B)", plan.String())
	assert.NoDirExists(t, plan.BackupPath)
	assert.Empty(t, reg.ActivePaths())

	_, err = svc.Plan(filepath.Join(dir, "missing"), config.Default())
	assert.Equal(t, backuperr.KindSourceNotFound, backuperr.KindOf(err))
}

func TestPlan_UsesCalculatedSize(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "archive")
	require.NoError(t, os.Mkdir(source, 0o755))

	var asked string
	mock := &mockWalker{
		sizeFunc: func(path string, _ models.Config) (int64, error) {
			asked = path
			return 3 << 20, nil
		},
		countFunc: func(string, models.Config, progress.Reporter) (int, int64, error) {
			t.Fatal("plan must not run a progress scan")
			return 0, 0, nil
		},
	}

	logger := testLogger()
	svc := NewWithServices(logger, naming.NewWithClock(fixedClock), copier.New(logger, nil), mock, registry.New(logger, nil), nil, plentyOfSpace)
	plan, err := svc.Plan(source, config.Default())

	require.NoError(t, err)
	assert.Equal(t, source, asked)
	assert.Equal(t, int64(3<<20), plan.TotalSize)
}

func TestValidateSource(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "ok.txt")
	writeFile(t, file, "ok")

	assert.NoError(t, ValidateSource(file))
	assert.NoError(t, ValidateSource(dir))

	err := ValidateSource(filepath.Join(dir, "missing.txt"))
	assert.Equal(t, backuperr.KindSourceNotFound, backuperr.KindOf(err))
}

func TestContainsParentRef(t *testing.T) {
	assert.True(t, containsParentRef("/a/../b"))
	assert.True(t, containsParentRef(".."))
	assert.False(t, containsParentRef("/a/..b/c"))
	assert.False(t, containsParentRef("/a/b..c"))
}

func TestCheckAvailableSpace(t *testing.T) {
	dir := t.TempDir()
	logger := testLogger()

	var queried string
	space := func(d string) (uint64, error) {
		queried = d
		return 110, nil
	}

	require.NoError(t, CheckAvailableSpace(100, filepath.Join(dir, "not", "yet"), space, logger))
	assert.Equal(t, dir, queried)

	err := CheckAvailableSpace(101, dir, space, logger)
	assert.Equal(t, backuperr.KindInsufficientSpace, backuperr.KindOf(err))

	failing := func(string) (uint64, error) { return 0, errors.New("statfs failed") }
	assert.NoError(t, CheckAvailableSpace(1<<20, dir, failing, logger))
	err = CheckAvailableSpace(2<<30, dir, failing, logger)
	assert.Equal(t, backuperr.KindInsufficientSpace, backuperr.KindOf(err))
}

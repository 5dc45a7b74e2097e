// Package walker copies and measures directory trees under the hidden-file
// and symlink policy of a backup configuration.
package walker

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fgeck/qbak/internal/backuperr"
	"github.com/fgeck/qbak/internal/models"
	"github.com/fgeck/qbak/internal/services/copier"
	"github.com/fgeck/qbak/internal/services/interrupt"
	"github.com/fgeck/qbak/internal/services/progress"
	"github.com/rs/zerolog"
)

// scanReportEvery throttles scan progress events.
const scanReportEvery = 100

// Service defines the interface for tree operations.
type Service interface {
	CopyTree(srcDir, dstDir string, cfg models.Config, result *models.BackupResult, reporter progress.Reporter) error
	Count(src string, cfg models.Config, reporter progress.Reporter) (int, int64, error)
	CalculateSize(path string, cfg models.Config) (int64, error)
}

// Impl implements the walker Service interface.
type Impl struct {
	copier            copier.Service
	interrupt         interrupt.Checker
	logger            zerolog.Logger
	symlinksSupported bool
}

// New creates a new walker service.
func New(logger zerolog.Logger, checker interrupt.Checker, copierSvc copier.Service) *Impl {
	if checker == nil {
		checker = interrupt.Never
	}
	return &Impl{
		copier:            copierSvc,
		interrupt:         checker,
		logger:            logger,
		symlinksSupported: runtime.GOOS != "windows",
	}
}

// IsHidden reports whether a path's final segment starts with a dot.
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// CopyTree copies the contents of srcDir into the existing dstDir, depth
// first. The interrupt flag is polled before every directory entry. A nil
// result discards the counters.
func (s *Impl) CopyTree(srcDir, dstDir string, cfg models.Config, result *models.BackupResult, reporter progress.Reporter) error {
	if reporter == nil {
		reporter = progress.Noop{}
	}
	if result == nil {
		result = &models.BackupResult{}
	}
	w := &copyWalk{Impl: s, cfg: cfg, result: result, reporter: reporter, visited: newVisitSet()}
	return w.dir(srcDir, dstDir)
}

type copyWalk struct {
	*Impl
	cfg      models.Config
	result   *models.BackupResult
	reporter progress.Reporter
	visited  visitSet
}

func (w *copyWalk) dir(src, dst string) error {
	leave, err := w.visited.enter(src)
	if err != nil {
		return err
	}
	defer leave()

	entries, err := os.ReadDir(src)
	if err != nil {
		return backuperr.FromOS(src, err)
	}

	for _, entry := range entries {
		if w.interrupt.IsInterrupted() {
			return backuperr.Interrupted()
		}

		name := entry.Name()
		if !w.cfg.IncludeHidden && IsHidden(name) {
			continue
		}

		srcPath := filepath.Join(src, name)
		dstPath := filepath.Join(dst, name)

		switch mode := entry.Type(); {
		case mode&fs.ModeSymlink != 0:
			err = w.symlink(srcPath, dstPath)
		case mode.IsDir():
			err = w.subdir(srcPath, dstPath)
		case mode.IsRegular():
			err = w.file(srcPath, dstPath, srcPath)
		default:
			w.logger.Debug().Str("path", srcPath).Str("type", mode.String()).Msg("skipping special file")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *copyWalk) file(src, dst, display string) error {
	if err := w.copier.CopyFile(src, dst, w.cfg, w.result); err != nil {
		return err
	}
	w.reporter.BackupProgress(w.result.FilesProcessed, w.result.TotalSize, display)
	return nil
}

func (w *copyWalk) subdir(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return backuperr.FromWrite(dst, err)
	}
	if err := w.dir(src, dst); err != nil {
		return err
	}
	if w.cfg.PreservePermissions {
		return copier.CopyMetadata(src, dst, w.logger)
	}
	return nil
}

func (w *copyWalk) symlink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return backuperr.FromOS(src, err)
	}

	if !w.cfg.FollowSymlinks && w.symlinksSupported {
		if err := os.Symlink(target, dst); err != nil {
			return backuperr.FromWrite(dst, err)
		}
		return nil
	}

	resolved, info, err := resolve(src, target)
	if err != nil || info == nil {
		return err
	}

	switch {
	case info.Mode().IsRegular():
		return w.file(resolved, dst, src)
	case info.IsDir() && w.cfg.FollowSymlinks:
		return w.subdir(resolved, dst)
	default:
		return nil
	}
}

// Count returns the number of files and their total size that CopyTree would
// copy from src. A regular file counts as one. Symlinks and hidden entries
// follow the same rules as CopyTree.
func (s *Impl) Count(src string, cfg models.Config, reporter progress.Reporter) (int, int64, error) {
	if reporter == nil {
		reporter = progress.Noop{}
	}

	info, err := os.Stat(src)
	if err != nil {
		return 0, 0, backuperr.FromOS(src, err)
	}
	if !info.IsDir() {
		return 1, info.Size(), nil
	}

	c := &countWalk{Impl: s, cfg: cfg, reporter: reporter, visited: newVisitSet()}
	if err := c.dir(src); err != nil {
		return 0, 0, err
	}
	return c.files, c.bytes, nil
}

type countWalk struct {
	*Impl
	cfg      models.Config
	reporter progress.Reporter
	visited  visitSet
	files    int
	bytes    int64
}

func (c *countWalk) dir(src string) error {
	leave, err := c.visited.enter(src)
	if err != nil {
		return err
	}
	defer leave()

	entries, err := os.ReadDir(src)
	if err != nil {
		return backuperr.FromOS(src, err)
	}

	for _, entry := range entries {
		if c.interrupt.IsInterrupted() {
			return backuperr.Interrupted()
		}

		name := entry.Name()
		if !c.cfg.IncludeHidden && IsHidden(name) {
			continue
		}
		path := filepath.Join(src, name)

		switch mode := entry.Type(); {
		case mode&fs.ModeSymlink != 0:
			err = c.symlink(path)
		case mode.IsDir():
			err = c.dir(path)
		case mode.IsRegular():
			var info fs.FileInfo
			if info, err = entry.Info(); err == nil {
				c.add(info.Size(), path)
			} else {
				err = backuperr.FromOS(path, err)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *countWalk) symlink(path string) error {
	if !c.cfg.FollowSymlinks && c.symlinksSupported {
		return nil
	}

	target, err := os.Readlink(path)
	if err != nil {
		return backuperr.FromOS(path, err)
	}
	resolved, info, err := resolve(path, target)
	if err != nil || info == nil {
		return err
	}

	switch {
	case info.Mode().IsRegular():
		c.add(info.Size(), path)
	case info.IsDir() && c.cfg.FollowSymlinks:
		return c.dir(resolved)
	}
	return nil
}

func (c *countWalk) add(size int64, path string) {
	c.files++
	c.bytes += size
	if c.files%scanReportEvery == 0 {
		c.reporter.ScanProgress(c.files, path)
	}
}

// CalculateSize returns the stat size of a file, or the total size of the
// files a directory backup would copy.
func (s *Impl) CalculateSize(path string, cfg models.Config) (int64, error) {
	_, size, err := s.Count(path, cfg, nil)
	return size, err
}

// resolve turns a link target into a path (relative targets are relative to
// the link's directory) and stats it. A dangling link yields a nil info and
// no error.
func resolve(link, target string) (string, fs.FileInfo, error) {
	resolved := target
	if !filepath.IsAbs(target) {
		resolved = filepath.Join(filepath.Dir(link), target)
	}

	info, err := os.Stat(resolved)
	if errors.Is(err, fs.ErrNotExist) {
		return resolved, nil, nil
	}
	if err != nil {
		return resolved, nil, backuperr.FromOS(resolved, err)
	}
	return resolved, info, nil
}

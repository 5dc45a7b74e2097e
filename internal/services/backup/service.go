// Package backup orchestrates one backup per target: naming, collision
// resolution, registration and the copy itself.
package backup

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/qbak/internal/backuperr"
	"github.com/fgeck/qbak/internal/models"
	"github.com/fgeck/qbak/internal/services/copier"
	"github.com/fgeck/qbak/internal/services/interrupt"
	"github.com/fgeck/qbak/internal/services/naming"
	"github.com/fgeck/qbak/internal/services/progress"
	"github.com/fgeck/qbak/internal/services/registry"
	"github.com/fgeck/qbak/internal/services/walker"
	"github.com/fgeck/qbak/internal/session"
	"github.com/rs/zerolog"
)

// Service defines the interface for the backup orchestrator.
type Service interface {
	Backup(target string, cfg models.Config, opts Options) (*models.BackupResult, error)
	Plan(target string, cfg models.Config) (*models.PlanResult, error)
}

// Namer produces candidate backup paths.
type Namer interface {
	GenerateBackupName(source string, cfg models.Config) (string, error)
}

// Options controls progress output for a single backup.
type Options struct {
	ForceProgress bool
	Quiet         bool
	Output        io.Writer
}

// Impl implements the backup Service interface.
type Impl struct {
	namer     Namer
	copier    copier.Service
	walker    walker.Service
	registry  *registry.Registry
	interrupt interrupt.Checker
	space     SpaceFunc
	logger    zerolog.Logger
}

// New creates a backup service bound to sess.
func New(logger zerolog.Logger, sess *session.Session) *Impl {
	checker := sess.Checker()
	copierSvc := copier.New(logger, checker)
	return &Impl{
		namer:     naming.New(),
		copier:    copierSvc,
		walker:    walker.New(logger, checker, copierSvc),
		registry:  sess.Registry(),
		interrupt: checker,
		space:     AvailableSpace,
		logger:    logger,
	}
}

// NewWithServices creates a backup service with custom collaborators (for testing).
func NewWithServices(
	logger zerolog.Logger,
	namer Namer,
	copierSvc copier.Service,
	walkerSvc walker.Service,
	reg *registry.Registry,
	checker interrupt.Checker,
	space SpaceFunc,
) *Impl {
	if checker == nil {
		checker = interrupt.Never
	}
	if space == nil {
		space = AvailableSpace
	}
	return &Impl{
		namer:     namer,
		copier:    copierSvc,
		walker:    walkerSvc,
		registry:  reg,
		interrupt: checker,
		space:     space,
		logger:    logger,
	}
}

// Backup backs up target as a file or a directory depending on what it is.
func (s *Impl) Backup(target string, cfg models.Config, opts Options) (*models.BackupResult, error) {
	if err := ValidateSource(target); err != nil {
		return nil, err
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, backuperr.FromOS(target, err)
	}
	if info.IsDir() {
		return s.BackupDirectory(target, cfg, opts)
	}
	return s.BackupFile(target, cfg)
}

// BackupFile copies a single file to a fresh, timestamped name next to it.
func (s *Impl) BackupFile(source string, cfg models.Config) (*models.BackupResult, error) {
	start := time.Now()

	if err := ValidateSource(source); err != nil {
		return nil, err
	}

	info, err := os.Stat(source)
	if err != nil {
		return nil, backuperr.FromOS(source, err)
	}
	if info.IsDir() {
		return nil, backuperr.Validation("source is a directory: %s", source)
	}

	dest, err := s.destination(source, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.checkSpace(info.Size(), filepath.Dir(dest)); err != nil {
		return nil, err
	}

	s.logger.Debug().Str("source", source).Str("destination", dest).Msg("starting file backup")

	result := &models.BackupResult{SourcePath: source, BackupPath: dest}
	err = s.registry.WithOperation(dest, func() error {
		return s.copier.CopyFile(source, dest, cfg, result)
	})
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	s.logger.Info().
		Str("source", source).
		Str("backup", dest).
		Int64("size", result.TotalSize).
		Dur("duration", result.Duration).
		Msg("file backup completed")

	return result, nil
}

// BackupDirectory copies a directory tree to a fresh, timestamped directory
// next to it. The tree is scanned first so progress has totals and the space
// check has a size.
func (s *Impl) BackupDirectory(source string, cfg models.Config, opts Options) (*models.BackupResult, error) {
	start := time.Now()

	if err := ValidateSource(source); err != nil {
		return nil, err
	}

	info, err := os.Stat(source)
	if err != nil {
		return nil, backuperr.FromOS(source, err)
	}
	if !info.IsDir() {
		return nil, backuperr.Validation("source is not a directory: %s", source)
	}

	dest, err := s.destination(source, cfg)
	if err != nil {
		return nil, err
	}

	scan := s.reporter(cfg, 0, 0, opts)
	files, size, err := s.walker.Count(source, cfg, scan)
	scan.Finish()
	if err != nil {
		return nil, err
	}
	if err := s.checkSpace(size, filepath.Dir(dest)); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("source", source).
		Str("destination", dest).
		Int("files", files).
		Int64("size", size).
		Msg("starting directory backup")

	result := &models.BackupResult{SourcePath: source, BackupPath: dest}
	reporter := s.reporter(cfg, files, size, opts)

	err = s.registry.WithOperation(dest, func() error {
		defer reporter.Finish()

		if err := os.MkdirAll(dest, 0o755); err != nil {
			return backuperr.FromWrite(dest, err)
		}
		if err := s.walker.CopyTree(source, dest, cfg, result, reporter); err != nil {
			return err
		}
		if cfg.PreservePermissions {
			return copier.CopyMetadata(source, dest, s.logger)
		}
		return nil
	})
	if err != nil {
		s.discard(dest, err)
		return nil, err
	}

	result.Duration = time.Since(start)
	s.logger.Info().
		Str("source", source).
		Str("backup", dest).
		Int("files", result.FilesProcessed).
		Int64("size", result.TotalSize).
		Dur("duration", result.Duration).
		Msg("directory backup completed")

	return result, nil
}

// Plan resolves the backup path and size for target without touching the
// filesystem.
func (s *Impl) Plan(target string, cfg models.Config) (*models.PlanResult, error) {
	if err := ValidateSource(target); err != nil {
		return nil, err
	}

	dest, err := s.destination(target, cfg)
	if err != nil {
		return nil, err
	}

	size, err := s.walker.CalculateSize(target, cfg)
	if err != nil {
		return nil, err
	}

	return &models.PlanResult{SourcePath: target, BackupPath: dest, TotalSize: size}, nil
}

func (s *Impl) destination(source string, cfg models.Config) (string, error) {
	candidate, err := s.namer.GenerateBackupName(source, cfg)
	if err != nil {
		return "", err
	}
	return naming.ResolveCollision(candidate)
}

func (s *Impl) reporter(cfg models.Config, files int, size int64, opts Options) progress.Reporter {
	if opts.Quiet {
		return progress.Noop{}
	}
	return progress.New(cfg.Progress, files, size, opts.ForceProgress, opts.Output)
}

// discard removes a partial directory after an ordinary failure. After an
// interrupt the path stays registered and the session cleanup removes it.
func (s *Impl) discard(dest string, err error) {
	if errors.Is(err, backuperr.ErrInterrupted) || s.interrupt.IsInterrupted() {
		return
	}
	if rmErr := registry.RemoveAll(dest); rmErr != nil {
		s.logger.Warn().Err(rmErr).Str("path", dest).Msg("could not remove partial backup")
	}
}

func (s *Impl) checkSpace(size int64, dir string) error {
	return CheckAvailableSpace(uint64(max(size, 0)), dir, s.space, s.logger)
}

// ValidateSource re-checks that path exists, is not a traversal attempt and
// has readable metadata.
func ValidateSource(path string) error {
	if _, err := os.Lstat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return backuperr.SourceNotFound(path)
		}
		return backuperr.FromOS(path, err)
	}

	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		if strings.Contains(path, "..") {
			return backuperr.PathTraversal(path)
		}
		canonical = path
	} else if abs, err := filepath.Abs(canonical); err == nil {
		canonical = abs
	}
	if containsParentRef(canonical) {
		return backuperr.PathTraversal(path)
	}

	if _, err := os.Stat(path); err != nil {
		return backuperr.FromOS(path, err)
	}
	return nil
}

func containsParentRef(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

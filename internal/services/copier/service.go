// Package copier copies single files atomically: write to a hidden temp file
// next to the destination, then rename it into place.
package copier

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fgeck/qbak/internal/backuperr"
	"github.com/fgeck/qbak/internal/models"
	"github.com/fgeck/qbak/internal/services/interrupt"
	"github.com/rs/zerolog"
)

const (
	// ChunkSize is the transfer unit; the interrupt flag is polled before each chunk.
	ChunkSize = 64 * 1024

	// TempPrefix starts every in-progress temp file name.
	TempPrefix = ".qbak_temp_"
)

// Service defines the interface for single-file copies.
type Service interface {
	CopyFile(src, dst string, cfg models.Config, result *models.BackupResult) error
}

// Impl implements the copier Service interface.
type Impl struct {
	interrupt interrupt.Checker
	logger    zerolog.Logger
	pid       int
	chunkSize int
}

// New creates a new copier service.
func New(logger zerolog.Logger, checker interrupt.Checker) *Impl {
	if checker == nil {
		checker = interrupt.Never
	}
	return &Impl{
		interrupt: checker,
		logger:    logger,
		pid:       os.Getpid(),
		chunkSize: ChunkSize,
	}
}

// NewWithChunkSize creates a copier with a custom chunk size (for testing).
func NewWithChunkSize(logger zerolog.Logger, checker interrupt.Checker, chunkSize int) *Impl {
	s := New(logger, checker)
	s.chunkSize = chunkSize
	return s
}

// TempPath returns the temp file used while writing dst:
// ".qbak_temp_<pid>_<name>" in the same directory.
func TempPath(dst string, pid int) string {
	return filepath.Join(filepath.Dir(dst), fmt.Sprintf("%s%d_%s", TempPrefix, pid, filepath.Base(dst)))
}

// CopyFile copies src to dst through a temp file and a single rename. On
// success result gains one file and the stat-reported size of src.
func (s *Impl) CopyFile(src, dst string, cfg models.Config, result *models.BackupResult) error {
	tmp := TempPath(dst, s.pid)

	if err := s.transfer(src, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if cfg.PreservePermissions {
		if err := CopyMetadata(src, tmp, s.logger); err != nil {
			_ = os.Remove(tmp)
			return err
		}
	}

	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return backuperr.FromWrite(dst, err)
	}

	info, err := os.Stat(src)
	if err != nil {
		return backuperr.FromOS(src, err)
	}
	if result != nil {
		result.AddFile(info.Size())
	}

	s.logger.Debug().Str("source", src).Str("destination", dst).Int64("size", info.Size()).Msg("file copied")
	return nil
}

func (s *Impl) transfer(src, tmp string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return backuperr.FromOS(src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return backuperr.FromWrite(tmp, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = backuperr.FromWrite(tmp, cerr)
		}
	}()

	w := bufio.NewWriterSize(out, s.chunkSize)
	buf := make([]byte, s.chunkSize)

	for {
		if s.interrupt.IsInterrupted() {
			return backuperr.Interrupted()
		}

		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return backuperr.FromWrite(tmp, werr)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return backuperr.FromOS(src, rerr)
		}
	}

	if err := w.Flush(); err != nil {
		return backuperr.FromWrite(tmp, err)
	}
	return nil
}

// CleanupTempFiles removes leftover temp files directly inside dir and
// returns how many were deleted. Files owned by another running process are
// left alone; files of this process or of a dead one are removed. A missing
// dir is not an error.
func CleanupTempFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, backuperr.FromOS(dir, err)
	}

	own := os.Getpid()
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, TempPrefix) {
			continue
		}
		if pid, ok := tempOwner(name); ok && pid != own && processAlive(pid) {
			continue
		}
		if os.Remove(filepath.Join(dir, name)) == nil {
			removed++
		}
	}
	return removed, nil
}

// tempOwner extracts the process id from a temp file name.
func tempOwner(name string) (int, bool) {
	rest := strings.TrimPrefix(name, TempPrefix)
	end := strings.IndexByte(rest, '_')
	if end <= 0 {
		return 0, false
	}
	pid, err := strconv.Atoi(rest[:end])
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

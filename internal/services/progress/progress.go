// Package progress reports scan and copy progress to a terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/qbak/internal/models"
	"github.com/mattn/go-isatty"
)

// Reporter receives progress events from the walker. Implementations must be
// safe to call with any values; the walker never depends on them.
type Reporter interface {
	ScanProgress(filesFound int, current string)
	BackupProgress(filesDone int, bytesDone int64, current string)
	Finish()
}

// Noop discards all events.
type Noop struct{}

func (Noop) ScanProgress(int, string)          {}
func (Noop) BackupProgress(int, int64, string) {}
func (Noop) Finish()                           {}

var ciVars = []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "TRAVIS", "CIRCLECI", "JENKINS_URL", "BUILDKITE"}

// IsCI reports whether a known CI environment variable is set.
func IsCI() bool {
	for _, name := range ciVars {
		if _, ok := os.LookupEnv(name); ok {
			return true
		}
	}
	return false
}

// IsTerminal reports whether fd is an interactive terminal.
func IsTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// DetectConfig fills in terminal detection for output on fd and disables
// progress in CI or when output is not a terminal.
func DetectConfig(base models.ProgressConfig, fd uintptr) models.ProgressConfig {
	cfg := base
	cfg.IsInteractive = IsTerminal(fd)
	if IsCI() || !cfg.IsInteractive {
		cfg.Enabled = false
	}
	return cfg
}

// ShouldShow decides whether an operation of the given size warrants progress output.
func ShouldShow(cfg models.ProgressConfig, files int, size int64, force bool) bool {
	if !cfg.Enabled {
		return false
	}
	if force {
		return true
	}
	return files >= cfg.MinFilesThreshold || size >= cfg.MinSizeThreshold
}

// New returns a terminal reporter writing to out when ShouldShow allows it,
// otherwise Noop. Unless forced, the reporter stays silent until
// cfg.MinDuration has passed.
func New(cfg models.ProgressConfig, files int, size int64, force bool, out io.Writer) Reporter {
	if out == nil || !ShouldShow(cfg, files, size, force) {
		return Noop{}
	}
	term := NewTerminal(out, files, size)
	if !force {
		term.delay = cfg.MinDuration
	}
	return term
}

// Terminal renders a single self-overwriting status line.
type Terminal struct {
	mu          sync.Mutex
	out         io.Writer
	totalFiles  int
	totalBytes  int64
	started     time.Time
	lastPrinted time.Time
	delay       time.Duration
	interval    time.Duration
	printed     bool
}

// NewTerminal creates a terminal reporter for a known total.
func NewTerminal(out io.Writer, totalFiles int, totalBytes int64) *Terminal {
	return &Terminal{
		out:        out,
		totalFiles: totalFiles,
		totalBytes: totalBytes,
		started:    time.Now(),
		interval:   100 * time.Millisecond,
	}
}

// ScanProgress prints the number of files found so far.
func (t *Terminal) ScanProgress(filesFound int, current string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.due() {
		return
	}
	fmt.Fprintf(t.out, "\rScanning: %d files found (%s)", filesFound, filepath.Base(current))
	t.printed = true
}

// BackupProgress prints files and bytes completed against the totals.
func (t *Terminal) BackupProgress(filesDone int, bytesDone int64, current string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if time.Since(t.started) < t.delay {
		return
	}
	if !t.due() && filesDone < t.totalFiles {
		return
	}
	if t.totalBytes > 0 {
		pct := float64(bytesDone) / float64(t.totalBytes) * 100
		fmt.Fprintf(t.out, "\r[%d/%d files] %s / %s (%.1f%%) %s",
			filesDone, t.totalFiles, humanize.IBytes(uint64(bytesDone)), humanize.IBytes(uint64(t.totalBytes)), pct, filepath.Base(current))
	} else {
		fmt.Fprintf(t.out, "\r[%d/%d files] %s", filesDone, t.totalFiles, filepath.Base(current))
	}
	t.printed = true
}

// Finish terminates the status line.
func (t *Terminal) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.printed {
		fmt.Fprint(t.out, "\n")
		t.printed = false
	}
}

func (t *Terminal) due() bool {
	now := time.Now()
	if now.Sub(t.started) < t.delay || now.Sub(t.lastPrinted) < t.interval {
		return false
	}
	t.lastPrinted = now
	return true
}

package models

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// BackupResult holds the result of a backup operation.
type BackupResult struct {
	SourcePath     string
	BackupPath     string
	FilesProcessed int
	TotalSize      int64
	Duration       time.Duration
}

// AddFile records one copied file of the given size.
func (r *BackupResult) AddFile(size int64) {
	r.FilesProcessed++
	r.TotalSize += size
}

// Summary returns the one-line report printed after a successful backup.
func (r *BackupResult) Summary() string {
	if r.FilesProcessed == 1 {
		return fmt.Sprintf("Created backup: %s (%s)", r.BackupPath, FormatSize(r.TotalSize))
	}
	return fmt.Sprintf("Created backup: %s (%d files, %s)", r.BackupPath, r.FilesProcessed, FormatSize(r.TotalSize))
}

// FormatSize renders a byte count in binary units, e.g. "14 B" or "1.5 KiB".
func FormatSize(size int64) string {
	if size < 0 {
		size = 0
	}
	return humanize.IBytes(uint64(size))
}

// PlanResult describes what a dry run would do for one target.
type PlanResult struct {
	SourcePath string
	BackupPath string
	TotalSize  int64
}

// String returns the dry-run line shown to the user.
func (p PlanResult) String() string {
	return fmt.Sprintf("Would create backup: %s (%s)", p.BackupPath, FormatSize(p.TotalSize))
}

// Package naming synthesizes and disambiguates backup file names.
package naming

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/fgeck/qbak/internal/backuperr"
	"github.com/fgeck/qbak/internal/models"
)

const (
	invalidChars = `<>:"|?*`
	basicLayout  = "20060102T150405"
)

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// Clock returns the current time. Overridable in tests.
type Clock func() time.Time

// Policy generates backup names.
type Policy struct {
	now Clock
}

// New creates a naming policy backed by the wall clock.
func New() *Policy {
	return &Policy{now: time.Now}
}

// NewWithClock creates a naming policy with a custom clock (for testing).
func NewWithClock(now Clock) *Policy {
	return &Policy{now: now}
}

// GenerateBackupName returns the candidate backup path for source:
// "<stem>-<timestamp>-<suffix>[.<ext>]" next to the source.
func (p *Policy) GenerateBackupName(source string, cfg models.Config) (string, error) {
	clean := filepath.Clean(source)
	name := filepath.Base(clean)
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", backuperr.Validation("invalid source filename: %q", source)
	}

	stem, ext := SplitFilename(name)
	timestamp := FormatTimestamp(p.now(), cfg.TimestampFormat)

	backupName := fmt.Sprintf("%s-%s-%s", stem, timestamp, cfg.BackupSuffix)
	if ext != "" {
		backupName += "." + ext
	}

	if err := ValidateFilename(backupName, cfg.MaxFilenameLength); err != nil {
		return "", err
	}

	return filepath.Join(filepath.Dir(clean), backupName), nil
}

// FormatTimestamp renders t in UTC. Only models.TimestampFormatBasic is
// implemented; any other configured format falls back to it.
func FormatTimestamp(t time.Time, _ string) string {
	return t.UTC().Format(basicLayout)
}

// SplitFilename splits name at its last interior dot. A leading dot means no
// extension; a trailing dot is dropped and also means no extension.
func SplitFilename(name string) (stem, ext string) {
	dot := strings.LastIndexByte(name, '.')
	switch {
	case dot <= 0:
		return name, ""
	case dot == len(name)-1:
		return name[:dot], ""
	default:
		return name[:dot], name[dot+1:]
	}
}

// ValidateFilename checks length, forbidden characters, control characters
// and reserved device names.
func ValidateFilename(name string, maxLength int) error {
	if len(name) > maxLength {
		return backuperr.FilenameTooLong(len(name), maxLength)
	}

	var bad strings.Builder
	for _, r := range name {
		if strings.ContainsRune(invalidChars, r) {
			bad.WriteRune(r)
		}
	}
	if bad.Len() > 0 {
		return backuperr.InvalidChars(bad.String())
	}

	stem, _ := SplitFilename(name)
	if upper := strings.ToUpper(stem); reservedNames[upper] {
		return backuperr.InvalidChars("reserved name: " + upper)
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return backuperr.InvalidChars("control characters")
		}
	}

	return nil
}

// ResolveCollision returns candidate if nothing exists there, otherwise the
// first free "<stem>-<n>[.<ext>]" for n in 1..9999. The probe is a
// point-in-time check and does not reserve the name.
func ResolveCollision(candidate string) (string, error) {
	if !exists(candidate) {
		return candidate, nil
	}

	dir := filepath.Dir(candidate)
	stem, ext := SplitFilename(filepath.Base(candidate))

	for n := 1; n <= backuperr.MaxCollisionAttempts; n++ {
		name := fmt.Sprintf("%s-%d", stem, n)
		if ext != "" {
			name += "." + ext
		}
		path := filepath.Join(dir, name)
		if !exists(path) {
			return path, nil
		}
	}

	return "", backuperr.CollisionsExhausted(candidate)
}

// exists uses Lstat so a dangling symlink still occupies its name.
func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// Package backuperr defines the error kinds surfaced by the backup core.
package backuperr

import (
	"errors"
	"fmt"
	"io/fs"
)

// Kind classifies a backup failure.
type Kind int

// Error kinds.
const (
	KindIO Kind = iota
	KindSourceNotFound
	KindPermissionDenied
	KindPathTraversal
	KindFilenameTooLong
	KindInvalidFilesystemChars
	KindCollisionsExhausted
	KindSymlinkLoop
	KindInterrupted
	KindInsufficientSpace
	KindValidation
	KindConfig
)

// MaxCollisionAttempts is the highest counter probed by collision resolution.
const MaxCollisionAttempts = 9999

// ErrInterrupted matches any interrupted error via errors.Is.
var ErrInterrupted = &Error{Kind: KindInterrupted}

// Error is the error type returned by the backup core.
type Error struct {
	Kind    Kind
	Path    string
	Length  int
	Max     int
	Chars   string
	Needed  uint64
	Have    uint64
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindSourceNotFound:
		return fmt.Sprintf("source file not found: %s", e.Path)
	case KindPermissionDenied:
		return fmt.Sprintf("permission denied: %s", e.Path)
	case KindPathTraversal:
		return fmt.Sprintf("path traversal attempt detected: %s", e.Path)
	case KindFilenameTooLong:
		return fmt.Sprintf("backup filename too long: %d chars (max: %d)", e.Length, e.Max)
	case KindInvalidFilesystemChars:
		return fmt.Sprintf("invalid filesystem characters: %s", e.Chars)
	case KindCollisionsExhausted:
		return fmt.Sprintf("too many backup collisions (>%d): %s", MaxCollisionAttempts, e.Path)
	case KindSymlinkLoop:
		return fmt.Sprintf("symlink loop detected: %s", e.Path)
	case KindInterrupted:
		return "operation interrupted by user"
	case KindInsufficientSpace:
		return fmt.Sprintf("insufficient disk space: need %d bytes, have %d", e.Needed, e.Have)
	case KindValidation:
		return fmt.Sprintf("validation error: %s", e.Message)
	case KindConfig:
		return fmt.Sprintf("configuration error: %s", e.Message)
	default:
		if e.Path != "" {
			return fmt.Sprintf("io error: %s: %v", e.Path, e.Err)
		}
		return fmt.Sprintf("io error: %v", e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so errors.Is(err, ErrInterrupted) works on any
// interrupted error regardless of wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Path == "" && t.Message == "" && t.Err == nil
}

// SourceNotFound returns a source-not-found error for path.
func SourceNotFound(path string) error {
	return &Error{Kind: KindSourceNotFound, Path: path}
}

// PermissionDenied returns a permission-denied error for path.
func PermissionDenied(path string) error {
	return &Error{Kind: KindPermissionDenied, Path: path}
}

// PathTraversal returns a path-traversal error for path.
func PathTraversal(path string) error {
	return &Error{Kind: KindPathTraversal, Path: path}
}

// FilenameTooLong returns a name-too-long error carrying the length and limit.
func FilenameTooLong(length, limit int) error {
	return &Error{Kind: KindFilenameTooLong, Length: length, Max: limit}
}

// InvalidChars returns an invalid-characters error carrying the offending set.
func InvalidChars(chars string) error {
	return &Error{Kind: KindInvalidFilesystemChars, Chars: chars}
}

// CollisionsExhausted reports that every counter variant of path is taken.
func CollisionsExhausted(path string) error {
	return &Error{Kind: KindCollisionsExhausted, Path: path}
}

// SymlinkLoop reports a directory cycle reached through path.
func SymlinkLoop(path string) error {
	return &Error{Kind: KindSymlinkLoop, Path: path}
}

// Interrupted returns a fresh interrupted error.
func Interrupted() error {
	return &Error{Kind: KindInterrupted}
}

// InsufficientSpace reports a disk space shortfall.
func InsufficientSpace(needed, have uint64) error {
	return &Error{Kind: KindInsufficientSpace, Needed: needed, Have: have}
}

// Validation returns a generic validation error.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Config returns a configuration error.
func Config(format string, args ...any) error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

// FromOS classifies an OS error on a path being read. Errors already of type
// *Error are returned unchanged.
func FromOS(path string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &Error{Kind: KindSourceNotFound, Path: path, Err: err}
	case errors.Is(err, fs.ErrPermission):
		return &Error{Kind: KindPermissionDenied, Path: path, Err: err}
	default:
		return &Error{Kind: KindIO, Path: path, Err: err}
	}
}

// FromWrite classifies an OS error on a path being written, such as a temp
// file, a backup destination or a directory created for one. A missing path
// there is an I/O failure, never a missing source.
func FromWrite(path string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	if errors.Is(err, fs.ErrPermission) {
		return &Error{Kind: KindPermissionDenied, Path: path, Err: err}
	}
	return &Error{Kind: KindIO, Path: path, Err: err}
}

// KindOf returns the kind of err, or KindIO for foreign errors.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindIO
}

// IsRecoverable reports whether processing may continue with the next target.
func IsRecoverable(err error) bool {
	switch KindOf(err) {
	case KindSourceNotFound, KindPermissionDenied, KindValidation, KindCollisionsExhausted:
		return true
	default:
		return false
	}
}

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	switch KindOf(err) {
	case KindInterrupted:
		return 130
	case KindValidation, KindCollisionsExhausted, KindConfig:
		return 2
	default:
		return 1
	}
}

// Suggestions returns remediation hints for err, if any.
func Suggestions(err error) []string {
	var be *Error
	if !errors.As(err, &be) {
		return nil
	}
	switch be.Kind {
	case KindFilenameTooLong:
		return []string{
			"Rename the source file to be shorter",
			"Move to a directory with a shorter path",
			"Use a shorter backup suffix in config",
		}
	case KindInvalidFilesystemChars:
		return []string{
			fmt.Sprintf("Rename file to remove problematic characters: %s", be.Chars),
			"Use a different filesystem that supports these characters",
		}
	case KindInsufficientSpace:
		return []string{
			"Free up disk space",
			"Choose a different backup location",
			"Remove old backup files",
		}
	case KindPermissionDenied:
		return []string{
			"Check file permissions",
			"Run with appropriate privileges",
			"Ensure parent directory is writable",
		}
	case KindCollisionsExhausted:
		return []string{"Remove or archive old backups of this file"}
	default:
		return nil
	}
}

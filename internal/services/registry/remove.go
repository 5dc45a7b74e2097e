package registry

import (
	"io/fs"
	"os"
	"path/filepath"
)

// RemoveAll deletes the tree at path. Copied directories may carry read-only
// permissions from their source, so when a plain RemoveAll fails every
// directory below path is made owner-writable and the removal is retried.
func RemoveAll(path string) error {
	if err := os.RemoveAll(path); err == nil {
		return nil
	}

	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			_ = os.Chmod(p, info.Mode().Perm()|0o700)
		}
		return nil
	})

	return os.RemoveAll(path)
}

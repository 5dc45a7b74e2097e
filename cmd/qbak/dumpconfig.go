package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fgeck/qbak/internal/config"
	"github.com/fgeck/qbak/internal/models"
)

// printConfig writes the effective settings, where they come from and what
// backup names look like with them.
func printConfig(w io.Writer, cfg models.Config, path string) error {
	if path == "" {
		var err error
		if path, err = config.Path(); err != nil {
			return err
		}
	}

	_, statErr := os.Stat(path)
	found := !errors.Is(statErr, fs.ErrNotExist)

	fmt.Fprintln(w, "qbak Configuration")
	fmt.Fprintln(w, "==================")
	fmt.Fprintln(w)

	if found {
		fmt.Fprintf(w, "Config file: %s (found)\n", path)
	} else {
		fmt.Fprintf(w, "Config file: %s (not found, using defaults)\n", path)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Current Settings:")
	fmt.Fprintln(w, "----------------")
	fmt.Fprintf(w, "timestamp_format     = %s\n", cfg.TimestampFormat)
	fmt.Fprintf(w, "backup_suffix        = %s\n", cfg.BackupSuffix)
	fmt.Fprintf(w, "preserve_permissions = %t\n", cfg.PreservePermissions)
	fmt.Fprintf(w, "follow_symlinks      = %t\n", cfg.FollowSymlinks)
	fmt.Fprintf(w, "include_hidden       = %t\n", cfg.IncludeHidden)
	fmt.Fprintf(w, "max_filename_length  = %d\n", cfg.MaxFilenameLength)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Example backup names with current settings:")
	fmt.Fprintln(w, "------------------------------------------")
	fmt.Fprintf(w, "example.txt -> example-YYYYMMDDTHHMMSS-%s.txt\n", cfg.BackupSuffix)
	fmt.Fprintf(w, "data.tar.gz -> data.tar-YYYYMMDDTHHMMSS-%s.gz\n", cfg.BackupSuffix)
	fmt.Fprintf(w, "no-ext -> no-ext-YYYYMMDDTHHMMSS-%s\n", cfg.BackupSuffix)

	if !found {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "To create a configuration file:")
		fmt.Fprintln(w, "------------------------------")
		fmt.Fprintf(w, "1. Create directory: mkdir -p %s\n", filepath.Dir(path))
		fmt.Fprintf(w, "2. Save the following as %s:\n", path)
		fmt.Fprintln(w)
		fmt.Fprint(w, config.SampleConfig())
		fmt.Fprintln(w)
		fmt.Fprintln(w, "3. Use 'qbak --dump-config' again to verify")
	}

	return nil
}

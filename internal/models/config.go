// Package models contains the data structures used throughout qbak.
package models

import "time"

// TimestampFormatBasic is the compact ISO-8601 basic format, the only one implemented.
const TimestampFormatBasic = "YYYYMMDDTHHMMSS"

// Config holds the settings for a backup run. It is treated as an immutable
// snapshot once loaded and is passed by value into every operation.
type Config struct {
	TimestampFormat     string
	BackupSuffix        string
	MaxFilenameLength   int
	PreservePermissions bool
	FollowSymlinks      bool
	IncludeHidden       bool
	Progress            ProgressConfig
}

// ProgressConfig controls when progress output is shown.
type ProgressConfig struct {
	Enabled           bool
	IsInteractive     bool // stderr is a terminal
	MinFilesThreshold int
	MinSizeThreshold  int64
	MinDuration       time.Duration // no output until an operation has run this long
}

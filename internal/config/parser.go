// Package config provides configuration file parsing.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/qbak/internal/backuperr"
	"github.com/fgeck/qbak/internal/models"
	"github.com/spf13/viper"
)

// Section is the INI section holding qbak settings.
const Section = "qbak"

// Default values.
const (
	DefaultBackupSuffix      = "qbak"
	DefaultMaxFilenameLength = 255
	DefaultMinFiles          = 50
	DefaultMinSize           = 10 * 1024 * 1024
	DefaultMinDuration       = 2 * time.Second
)

// Default returns the built-in configuration.
func Default() models.Config {
	return models.Config{
		TimestampFormat:     models.TimestampFormatBasic,
		BackupSuffix:        DefaultBackupSuffix,
		MaxFilenameLength:   DefaultMaxFilenameLength,
		PreservePermissions: true,
		FollowSymlinks:      true,
		IncludeHidden:       true,
		Progress: models.ProgressConfig{
			Enabled:           true,
			MinFilesThreshold: DefaultMinFiles,
			MinSizeThreshold:  DefaultMinSize,
			MinDuration:       DefaultMinDuration,
		},
	}
}

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("ini")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (models.Config, error) {
	p.v.SetConfigFile(path)
	p.v.SetConfigType("ini")

	if err := p.v.ReadInConfig(); err != nil {
		return models.Config{}, backuperr.Config("failed to parse config file: %v", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return models.Config{}, backuperr.Config("failed to parse config: %v", err)
	}

	return p.parse()
}

func (p *Parser) parse() (models.Config, error) {
	cfg := Default()

	if v := p.get("timestamp_format"); v != "" {
		cfg.TimestampFormat = v
	}
	if v := p.get("backup_suffix"); v != "" {
		cfg.BackupSuffix = v
	}

	// Unrecognized booleans keep their defaults.
	cfg.PreservePermissions = p.getBool("preserve_permissions", cfg.PreservePermissions)
	cfg.FollowSymlinks = p.getBool("follow_symlinks", cfg.FollowSymlinks)
	cfg.IncludeHidden = p.getBool("include_hidden", cfg.IncludeHidden)

	if v := p.get("max_filename_length"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return models.Config{}, backuperr.Config("invalid max_filename_length: %s", v)
		}
		cfg.MaxFilenameLength = n
	}

	return cfg, nil
}

func (p *Parser) get(key string) string {
	return strings.TrimSpace(p.v.GetString(Section + "." + key))
}

func (p *Parser) getBool(key string, fallback bool) bool {
	if !p.v.IsSet(Section + "." + key) {
		return fallback
	}
	if b, ok := ParseBool(p.get(key)); ok {
		return b
	}
	return fallback
}

// ParseBool accepts true/false, yes/no, 1/0 and on/off in any case.
func ParseBool(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "1", "on":
		return true, true
	case "false", "no", "0", "off":
		return false, true
	default:
		return false, false
	}
}

// Path returns the platform configuration file location.
func Path() (string, error) {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "qbak", "config.ini"), nil
		}
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "qbak", "config.ini"), nil
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".config", "qbak", "config.ini"), nil
	}
	return "", backuperr.Config("could not determine config directory")
}

// Load reads the configuration file from Path, falling back to defaults
// when it does not exist.
func Load() (models.Config, error) {
	path, err := Path()
	if err != nil {
		return models.Config{}, err
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}

	return NewParser().LoadFile(path)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg models.Config) error {
	if cfg.BackupSuffix == "" {
		return backuperr.Config("backup_suffix must not be empty")
	}
	if cfg.MaxFilenameLength <= 0 {
		return backuperr.Config("max_filename_length must be positive, got %d", cfg.MaxFilenameLength)
	}
	return nil
}

// SampleConfig returns a commented configuration file with the defaults.
func SampleConfig() string {
	d := Default()
	return fmt.Sprintf(`[qbak]
# Timestamp format for backup names (ISO-8601 basic format)
timestamp_format = %s

# Suffix added to backup filenames
backup_suffix = %s

# Preserve original file permissions and timestamps (true/false)
preserve_permissions = %t

# Follow symbolic links (copy target) or preserve as symlinks
follow_symlinks = %t

# Include hidden files when backing up directories
include_hidden = %t

# Maximum filename length before showing error
max_filename_length = %d
`, d.TimestampFormat, d.BackupSuffix, d.PreservePermissions, d.FollowSymlinks, d.IncludeHidden, d.MaxFilenameLength)
}

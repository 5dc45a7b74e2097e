package copier

import (
	"io/fs"
	"os"

	"github.com/fgeck/qbak/internal/backuperr"
	"github.com/rs/zerolog"
)

const permBits = fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky

// CopyMetadata copies permission bits from src to dst, then access and
// modification times. Timestamp failures are logged and ignored.
func CopyMetadata(src, dst string, logger zerolog.Logger) error {
	info, err := os.Stat(src)
	if err != nil {
		return backuperr.FromOS(src, err)
	}

	if err := os.Chmod(dst, info.Mode()&permBits); err != nil {
		return backuperr.FromWrite(dst, err)
	}

	if err := copyTimes(src, dst, info); err != nil {
		logger.Debug().Err(err).Str("path", dst).Msg("could not copy timestamps")
	}
	return nil
}

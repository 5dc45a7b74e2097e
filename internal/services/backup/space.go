package backup

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/fgeck/qbak/internal/backuperr"
	"github.com/rs/zerolog"
)

// fallbackAvailable is assumed when free space cannot be determined.
const fallbackAvailable uint64 = 1 << 30

// SpaceFunc reports the bytes available to an unprivileged user on the volume
// holding dir.
type SpaceFunc func(dir string) (uint64, error)

var errSpaceUnsupported = errors.New("free space query not supported on this platform")

// CheckAvailableSpace fails with InsufficientSpace when dir's volume has less
// than size plus a 10% margin free. The query runs against the nearest
// existing ancestor of dir. A failed query is logged and 1 GiB is assumed.
func CheckAvailableSpace(size uint64, dir string, space SpaceFunc, logger zerolog.Logger) error {
	if space == nil {
		space = AvailableSpace
	}
	needed := size + size/10

	available, err := space(existingAncestor(dir))
	if err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("could not determine available space, assuming 1 GiB")
		available = fallbackAvailable
	}

	if available < needed {
		return backuperr.InsufficientSpace(needed, available)
	}
	return nil
}

func existingAncestor(dir string) string {
	current := filepath.Clean(dir)
	if current == "" {
		current = "."
	}
	for {
		if _, err := os.Stat(current); err == nil {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return current
		}
		current = parent
	}
}

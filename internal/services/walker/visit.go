package walker

import (
	"path/filepath"

	"github.com/fgeck/qbak/internal/backuperr"
)

// visitSet holds the canonical directories on the current recursion path.
type visitSet map[string]struct{}

func newVisitSet() visitSet {
	return make(visitSet)
}

// enter records dir and returns the func that forgets it again. Entering a
// directory that is already on the path is a symlink loop.
func (v visitSet) enter(dir string) (func(), error) {
	canonical, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, backuperr.FromOS(dir, err)
	}
	if abs, err := filepath.Abs(canonical); err == nil {
		canonical = abs
	}

	if _, seen := v[canonical]; seen {
		return nil, backuperr.SymlinkLoop(dir)
	}
	v[canonical] = struct{}{}

	return func() { delete(v, canonical) }, nil
}

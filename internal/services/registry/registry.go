// Package registry tracks backup destinations that are under construction so
// an interrupt can remove half-written artifacts.
package registry

import (
	"os"
	"sort"
	"sync"

	"github.com/fgeck/qbak/internal/services/interrupt"
	"github.com/rs/zerolog"
)

// Registry is a lock-protected set of in-flight destination paths. No
// filesystem I/O happens while the lock is held.
type Registry struct {
	mu        sync.Mutex
	active    map[string]struct{}
	interrupt interrupt.Checker
	logger    zerolog.Logger
}

// CleanupReport lists what a cleanup pass did.
type CleanupReport struct {
	Removed []string
	Failed  []string
}

// New creates an empty registry. checker decides, at guard release time,
// whether an unfinished path is abandoned to the cleanup pass.
func New(logger zerolog.Logger, checker interrupt.Checker) *Registry {
	if checker == nil {
		checker = interrupt.Never
	}
	return &Registry{
		active:    make(map[string]struct{}),
		interrupt: checker,
		logger:    logger,
	}
}

// Register marks path as in progress and returns its guard.
func (r *Registry) Register(path string) *Guard {
	r.mu.Lock()
	r.active[path] = struct{}{}
	r.mu.Unlock()

	return &Guard{path: path, registry: r}
}

// ActivePaths returns a sorted snapshot of the in-flight paths.
func (r *Registry) ActivePaths() []string {
	r.mu.Lock()
	paths := make([]string, 0, len(r.active))
	for p := range r.active {
		paths = append(paths, p)
	}
	r.mu.Unlock()

	sort.Strings(paths)
	return paths
}

func (r *Registry) contains(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[path]
	return ok
}

// Cleanup deletes every registered path that still exists on disk, then
// drops those entries whether or not the delete succeeded.
func (r *Registry) Cleanup(silent bool) CleanupReport {
	var report CleanupReport
	snapshot := r.ActivePaths()

	for _, path := range snapshot {
		info, err := os.Lstat(path)
		if err != nil {
			continue
		}

		if info.IsDir() {
			err = RemoveAll(path)
		} else {
			err = os.Remove(path)
		}

		if err != nil {
			report.Failed = append(report.Failed, path)
			if !silent {
				r.logger.Warn().Err(err).Str("path", path).Msg("could not clean up incomplete backup")
			}
			continue
		}

		report.Removed = append(report.Removed, path)
		if !silent {
			r.logger.Info().Str("path", path).Msg("cleaned up incomplete backup")
		}
	}

	r.mu.Lock()
	for _, path := range snapshot {
		delete(r.active, path)
	}
	r.mu.Unlock()

	return report
}

// WithOperation registers path, runs fn and completes the guard only when fn
// succeeds. Any other exit, including a panic, goes through Release.
func (r *Registry) WithOperation(path string, fn func() error) error {
	guard := r.Register(path)
	defer guard.Release()

	if err := fn(); err != nil {
		return err
	}

	guard.Complete()
	return nil
}

func (r *Registry) remove(path string) {
	r.mu.Lock()
	delete(r.active, path)
	r.mu.Unlock()
}

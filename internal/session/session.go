// Package session holds the per-process backup context: the interrupt flag
// and the registry of in-flight destinations, constructed once and shared by
// every service.
package session

import (
	"path/filepath"
	"sync"

	"github.com/fgeck/qbak/internal/services/copier"
	"github.com/fgeck/qbak/internal/services/interrupt"
	"github.com/fgeck/qbak/internal/services/registry"
	"github.com/rs/zerolog"
)

// Session is the explicit context object passed to the backup services.
type Session struct {
	controller *interrupt.Controller
	registry   *registry.Registry
	logger     zerolog.Logger

	once   sync.Once
	report registry.CleanupReport
	swept  int
}

// New creates a session with a fresh flag and an empty registry.
func New(logger zerolog.Logger) *Session {
	controller := interrupt.New()
	return &Session{
		controller: controller,
		registry:   registry.New(logger, controller),
		logger:     logger,
	}
}

// Checker returns the read side of the interrupt flag.
func (s *Session) Checker() interrupt.Checker {
	return s.controller
}

// Registry returns the registry of in-flight destinations.
func (s *Session) Registry() *registry.Registry {
	return s.registry
}

// IsInterrupted reports whether the session was interrupted.
func (s *Session) IsInterrupted() bool {
	return s.controller.IsInterrupted()
}

// RequestInterrupt trips the flag without cleaning up. Running copies stop at
// their next poll.
func (s *Session) RequestInterrupt() bool {
	return s.controller.RequestInterrupt()
}

// Interrupt trips the flag, removes every registered destination and sweeps
// stale temp files from their parent directories and from extraDirs. Only the
// first call does any work; later calls wait for it and return its report.
func (s *Session) Interrupt(extraDirs ...string) (registry.CleanupReport, int) {
	s.once.Do(func() {
		s.controller.RequestInterrupt()

		dirs := make(map[string]struct{}, len(extraDirs))
		for _, path := range s.registry.ActivePaths() {
			dirs[filepath.Dir(path)] = struct{}{}
		}
		for _, dir := range extraDirs {
			dirs[dir] = struct{}{}
		}

		s.report = s.registry.Cleanup(false)

		for dir := range dirs {
			n, err := copier.CleanupTempFiles(dir)
			if err != nil {
				s.logger.Debug().Err(err).Str("dir", dir).Msg("temp file sweep failed")
				continue
			}
			s.swept += n
		}

		s.logger.Debug().
			Int("removed", len(s.report.Removed)).
			Int("failed", len(s.report.Failed)).
			Int("temp_files", s.swept).
			Msg("interrupt cleanup finished")
	})
	return s.report, s.swept
}

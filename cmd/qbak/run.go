package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fgeck/qbak/internal/backuperr"
	"github.com/fgeck/qbak/internal/config"
	"github.com/fgeck/qbak/internal/models"
	"github.com/fgeck/qbak/internal/services/backup"
	"github.com/fgeck/qbak/internal/services/copier"
	"github.com/fgeck/qbak/internal/services/progress"
	"github.com/fgeck/qbak/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// interruptGrace bounds how long a signal waits for the running backup to
// unwind before cleanup starts anyway.
const interruptGrace = 2 * time.Second

// errTargetsFailed is returned when at least one target failed recoverably.
var errTargetsFailed = errors.New("one or more targets failed")

// exit is replaced in tests.
var exit = os.Exit

func runBackup(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if err := config.Validate(cfg); err != nil {
		return err
	}

	if dumpConfig {
		return printConfig(cmd.OutOrStdout(), cfg, configFile)
	}

	if len(args) == 0 {
		return backuperr.Validation("no targets specified, use --help for usage information")
	}

	cfg.Progress = progress.DetectConfig(cfg.Progress, os.Stderr.Fd())

	sess := session.New(log.Logger)
	dirs := parentDirs(args)
	sweepTempFiles(dirs)

	stop := watchSignals(sess, dirs, cmd.ErrOrStderr())
	defer stop()

	a := &app{
		cfg:     cfg,
		backup:  backup.New(log.Logger, sess),
		session: sess,
		out:     cmd.OutOrStdout(),
		errOut:  cmd.ErrOrStderr(),
		dryRun:  dryRun,
		verbose: verbose,
		quiet:   quiet,
	}

	err := a.run(args)
	if errors.Is(err, backuperr.ErrInterrupted) {
		sess.Interrupt(dirs...)
	}
	return err
}

func loadConfig() models.Config {
	var (
		cfg models.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.NewParser().LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Warn().Err(err).Msg("could not load config, using defaults")
		return config.Default()
	}
	return cfg
}

// app processes the targets of one invocation.
type app struct {
	cfg     models.Config
	backup  backup.Service
	session *session.Session
	out     io.Writer
	errOut  io.Writer
	dryRun  bool
	verbose bool
	quiet   bool
}

// run backs up every target in order. Recoverable failures are reported and
// skipped; anything else stops the run.
func (a *app) run(targets []string) error {
	succeeded, failed := 0, 0

	for _, target := range targets {
		if a.session != nil && a.session.IsInterrupted() {
			return backuperr.Interrupted()
		}

		if err := a.processTarget(target); err != nil {
			failed++
			if !backuperr.IsRecoverable(err) {
				return err
			}
			if !a.quiet {
				printError(a.errOut, target, err, a.verbose)
			}
			continue
		}
		succeeded++
	}

	if !a.quiet && (succeeded > 1 || failed > 0) {
		fmt.Fprintf(a.out, "Backup summary: %d succeeded, %d failed\n", succeeded, failed)
	}

	if failed > 0 {
		return errTargetsFailed
	}
	return nil
}

func (a *app) processTarget(target string) error {
	if a.dryRun {
		plan, err := a.backup.Plan(target, a.cfg)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, plan.String())
		return nil
	}

	result, err := a.backup.Backup(target, a.cfg, backup.Options{
		ForceProgress: a.verbose,
		Quiet:         a.quiet,
		Output:        a.errOut,
	})
	if err != nil {
		return err
	}

	switch {
	case a.verbose:
		fmt.Fprintf(a.out, "Processed: %s\n", target)
		fmt.Fprintf(a.out, "  -> %s\n", result.BackupPath)
		fmt.Fprintf(a.out, "  Files: %d\n", result.FilesProcessed)
		fmt.Fprintf(a.out, "  Size: %s\n", models.FormatSize(result.TotalSize))
		fmt.Fprintf(a.out, "  Duration: %.2fs\n", result.Duration.Seconds())
	case !a.quiet:
		fmt.Fprintln(a.out, result.Summary())
	}
	return nil
}

// watchSignals turns SIGINT/SIGTERM into an interrupt: trip the flag, give the
// running backup a moment to stop, clean up and exit with 130. The returned
// func stops watching.
func watchSignals(sess *session.Session, dirs []string, errOut io.Writer) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigChan:
			log.Debug().Str("signal", sig.String()).Msg("received signal")
			fmt.Fprintln(errOut, "\nInterrupted by user. Cleaning up...")
			sess.RequestInterrupt()

			select {
			case <-done:
			case <-time.After(interruptGrace):
			}

			sess.Interrupt(dirs...)
			exit(backuperr.ExitCode(backuperr.Interrupted()))
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

// parentDirs returns the distinct directories that will hold the backups of
// targets, in order.
func parentDirs(targets []string) []string {
	seen := make(map[string]bool, len(targets))
	dirs := make([]string, 0, len(targets))
	for _, target := range targets {
		dir := filepath.Dir(filepath.Clean(target))
		if seen[dir] {
			continue
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}
	return dirs
}

// sweepTempFiles removes temp files left behind by earlier runs.
func sweepTempFiles(dirs []string) {
	for _, dir := range dirs {
		n, err := copier.CleanupTempFiles(dir)
		if err != nil {
			log.Debug().Err(err).Str("dir", dir).Msg("could not sweep temp files")
			continue
		}
		if n > 0 {
			log.Info().Int("count", n).Str("dir", dir).Msg("removed stale temp files")
		}
	}
}

package main

import (
	"errors"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Command line flags.
	configFile string
	dryRun     bool
	verbose    bool
	quiet      bool
	jsonOutput bool
	dumpConfig bool
)

var rootCmd = &cobra.Command{
	Use:   "qbak [TARGET...]",
	Short: "Quick backup of files and directories",
	Long: `qbak creates timestamped backup copies next to the original:

  example.txt -> example-20250603T145231-qbak.txt
  photos/     -> photos-20250603T145231-qbak/

Copies are written to a hidden temp file and renamed into place, so an
interrupted backup never leaves a half-written file behind.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	RunE:          runBackup,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (default is the platform config path)")
	rootCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "show what would be backed up without doing it")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show detailed output")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.Flags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")
	rootCmd.Flags().BoolVar(&dumpConfig, "dump-config", false, "display current configuration settings and exit")

	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}
}

// Execute runs the root command and reports any error on stderr.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errTargetsFailed) {
		printError(os.Stderr, "", err, true)
	}
	return err
}

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/fgeck/qbak/internal/backuperr"
)

var (
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

// printError reports err, prefixed with the target when there is one.
// Suggestions are only shown when withSuggestions is set.
func printError(w io.Writer, target string, err error, withSuggestions bool) {
	if target != "" {
		fmt.Fprintf(w, "%s processing %s: %v\n", red("Error"), target, err)
	} else {
		fmt.Fprintf(w, "%s: %v\n", red("Error"), err)
	}

	if !withSuggestions {
		return
	}
	suggestions := backuperr.Suggestions(err)
	if len(suggestions) == 0 {
		return
	}
	fmt.Fprintln(w, yellow("Suggestions:"))
	for _, s := range suggestions {
		fmt.Fprintf(w, "  - %s\n", s)
	}
}

// exitCode maps the result of Execute to a process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errTargetsFailed):
		return 1
	default:
		return backuperr.ExitCode(err)
	}
}

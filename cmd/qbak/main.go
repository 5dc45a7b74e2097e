// Package main is the entry point for qbak.
package main

import (
	"os"
)

func main() {
	os.Exit(exitCode(Execute()))
}

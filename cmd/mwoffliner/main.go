package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/openzim/mwoffliner/cmd/mwoffliner/commands"
)

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Anything that escapes the command's error path is a bug; exit
	// with a distinct code so wrappers can tell it from a normal
	// failure.
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n%s", r, debug.Stack())
			os.Exit(42)
		}
	}()

	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

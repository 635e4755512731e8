package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/blkcp/blkcp/cmd/blkcp/commands"
)

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Set version info for commands package
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		// Bad invocations exit 2 before any I/O happens; everything
		// else is a runtime failure and exits 1.
		var usageErr *commands.UsageError
		if errors.As(err, &usageErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

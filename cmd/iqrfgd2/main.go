package main

import (
	"fmt"
	"os"

	"github.com/iqrfgd2/daemon/cmd/iqrfgd2/commands"
	"github.com/iqrfgd2/daemon/internal/runtime"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date
	runtime.Version = version

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

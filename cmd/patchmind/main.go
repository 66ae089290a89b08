// Command patchmind asks a language model for code changes against a local project and
// applies the proposed edits through a reviewable change queue.
package main

import (
	"fmt"
	"os"

	"patchmind/pkg/logx"
)

// Version information - set via ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	err := newRootCmd().Execute()

	if closeErr := logx.CloseLogFile(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", closeErr)
	}
	if err != nil {
		os.Exit(exitCode(err))
	}
}

package cmd

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/wharflab/covstatic/internal/version"
)

// Exit codes.
const (
	ExitSuccess     = 0 // coverage at or above the fail-under threshold, or the check disabled
	ExitBelowFloor  = 1 // statement coverage below the fail-under threshold
	ExitConfigError = 2 // config, parse, or analysis error
	ExitNoFiles     = 3 // no Go files matched the given paths/globs
)

// NewApp creates the CLI application.
func NewApp() *cli.Command {
	return &cli.Command{
		Name:    "covstatic",
		Usage:   "Static line and arc coverage analysis for Go source",
		Version: version.Version(),
		Description: `covstatic statically determines which lines and control-flow arcs of a
Go source file are executable, without running the program, and can diff
that against a runtime-collected execution record.

Examples:
  covstatic analyze .
  covstatic analyze --exclude 'covstatic:ignore' main.go
  covstatic diff --exec-data cover.json .`,
		Commands: []*cli.Command{
			analyzeCommand(),
			diffCommand(),
			versionCommand(),
		},
	}
}

// Execute runs the CLI application.
func Execute() error {
	return NewApp().Run(context.Background(), os.Args)
}

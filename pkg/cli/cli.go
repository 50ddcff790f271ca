// Package cli provides the command-line interface for flowkit.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "Path to workspace config.yaml",
		EnvVars: []string{"FLOWKIT_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "log-file",
		Usage:   "Log file path (default: <home>/logs/flowkit.log)",
		EnvVars: []string{"FLOWKIT_LOG_FILE"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Echo log lines to stderr",
		EnvVars: []string{"FLOWKIT_VERBOSE"},
	},
}

// Execute runs the CLI.
func Execute() {
	app := &cli.App{
		Name:    "flowkit",
		Usage:   "Browser automation flow runner",
		Version: Version,
		Description: `Flowkit executes automation flow files against a browser session,
with conditions, loops, exception handling, and step-level debugging.

Examples:
  flowkit run flow.yaml
  flowkit run flow.yaml --var USER=test --break 4 --debug
  flowkit validate flows/
  flowkit demo`,
		Flags: GlobalFlags,
		Commands: []*cli.Command{
			runCommand,
			demoCommand,
			validateCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Set by the release build through -ldflags "-X main.version=..."
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	exitOK = iota
	exitFailure
	exitLinkLost
)

var rootCmd = &cobra.Command{
	Use:   "surronlog",
	Short: "Surron fault-log BLE client",
	Long: `Talks to the AT-command fault log of Surron controllers over Bluetooth Low Energy.

  scan      list nearby Surron devices
  console   interactive AT prompt with preset fault-log queries
  send      one-shot commands for scripts
  bridge    expose the AT channel as a PTY for serial terminal tools

Settings come from --config (YAML) and SURRONLOG_* environment variables;
"surronlog config" prints the values in effect.`,
	Version:       releaseVersion(version),
	SilenceErrors: true,
}

// releaseVersion turns a bare semver like "1.2.0" into "v1.2.0"
func releaseVersion(v string) string {
	if v != "" && v[0] >= '0' && v[0] <= '9' {
		return "v" + v
	}
	return v
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("surronlog {{.Version}} (commit %s, built %s)\n", commit, date))
	rootCmd.AddCommand(scanCmd, consoleCmd, sendCmd, bridgeCmd, configCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML configuration file")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-file", "", "Write logs to this file (rotated) instead of stderr")
	flags.Bool("verbose", false, "Enable debug logging (ignored when --log-level is set)")
	flags.Bool("no-color", false, "Disable colored output")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}

// exitCode reports err on stderr and maps it to the process exit status
func exitCode(stderr io.Writer, err error) int {
	// Ctrl+C ends long-running commands normally
	if err == nil || errors.Is(err, context.Canceled) {
		return exitOK
	}

	fmt.Fprintf(stderr, "ERROR: %s\n", FormatUserError(err))
	if errors.Is(err, ErrConnectionLost) {
		return exitLinkLost
	}
	return exitFailure
}

func main() {
	os.Exit(exitCode(os.Stderr, rootCmd.Execute()))
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/surronlog/internal/config"
	"gopkg.in/yaml.v3"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: fmt.Sprintf(`Prints the configuration the other commands would run with, after merging
the defaults, --config, %s_* environment variables and flags.

The output is a valid configuration file.

Examples:
  # Start a config file from the defaults
  surronlog config --default > surronlog.yaml

  # Check what an override resolves to
  %s_SCAN_WINDOW=5s surronlog config --config surronlog.yaml`, config.EnvPrefix, config.EnvPrefix),
	Args: cobra.NoArgs,
	RunE: runConfig,
}

var configDefault bool

func init() {
	configCmd.Flags().BoolVar(&configDefault, "default", false, "Print the built-in defaults, ignoring files, environment and flags")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	if !configDefault {
		loaded, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	cmd.SilenceUsage = true

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

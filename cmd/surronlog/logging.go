package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/surronlog/internal/config"
)

// loadConfig builds the effective configuration and logger for cmd.
// --log-level takes precedence over --verbose; both override the file and environment.
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose && !cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logrus.DebugLevel.String()
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, nil, err
	}

	logger.WithFields(logrus.Fields{
		"config":  path,
		"level":   cfg.LogLevel,
		"version": version,
	}).Debug("Configuration loaded")

	return cfg, logger, nil
}

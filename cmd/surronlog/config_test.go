package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"
)

type ConfigCommandTestSuite struct {
	CommandTestSuite
}

func (s *ConfigCommandTestSuite) TestDefaultIgnoresConfigFile() {
	// GOAL: --default prints the built-in values even when a config file is given
	out, err := s.ExecuteCommand("config", "--default")

	s.Require().NoError(err)
	s.Contains(out, "name_prefix: surron-")
	s.Contains(out, "window: 3s", "durations MUST render in human form")
	s.NotContains(out, "window: 30ms")
}

func (s *ConfigCommandTestSuite) TestEffectiveConfigMergesFileAndEnv() {
	// GOAL: The printed config reflects the file with environment overrides on top
	//
	// TEST SCENARIO: Fast config file → SURRONLOG_SCAN_PAUSE overrides one key → both visible
	s.T().Setenv("SURRONLOG_SCAN_PAUSE", "7s")

	out, err := s.ExecuteCommand("config")
	s.Require().NoError(err)

	var printed map[string]any
	s.Require().NoError(yaml.Unmarshal([]byte(out), &printed), "output MUST be valid YAML")

	scan, ok := printed["scan"].(map[string]any)
	s.Require().True(ok)
	s.Equal("30ms", scan["window"], "file value MUST be kept")
	s.Equal("7s", scan["pause"], "environment MUST override the file")
}

func (s *ConfigCommandTestSuite) TestInvalidConfigFileFails() {
	bad := filepath.Join(s.T().TempDir(), "bad.yaml")
	s.Require().NoError(os.WriteFile(bad, []byte("timeouts:\n  write: 0s\n"), 0o600))
	s.ConfigPath = bad

	_, err := s.ExecuteCommand("config")

	s.Require().Error(err)
	s.Contains(err.Error(), "timeouts.write must be positive")
}

func TestConfigCommandTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigCommandTestSuite))
}

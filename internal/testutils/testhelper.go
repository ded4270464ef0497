package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/surronlog/internal/config"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// FastConfig returns the default configuration with every cadence and timeout shrunk
// so that time-based behavior can be observed within a test run.
func FastConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Scan.Window = 30 * time.Millisecond
	cfg.Scan.Pause = 10 * time.Millisecond
	cfg.Scan.Backoff = 50 * time.Millisecond
	cfg.Scan.StaleAfter = 150 * time.Millisecond
	cfg.Scan.SweepInterval = 20 * time.Millisecond

	cfg.Timeouts.Connect = 200 * time.Millisecond
	cfg.Timeouts.Discover = 200 * time.Millisecond
	cfg.Timeouts.Write = 100 * time.Millisecond
	cfg.Timeouts.SendSettle = time.Millisecond
	cfg.Timeouts.Unsubscribe = 50 * time.Millisecond
	cfg.Timeouts.Disconnect = 50 * time.Millisecond
	cfg.Timeouts.ShutdownStep = 50 * time.Millisecond
	cfg.Timeouts.Shutdown = 300 * time.Millisecond
	return cfg
}

// Package config holds the session configuration: struct-tag defaults, YAML/env
// loading and logger construction.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/surronlog/internal/device"
)

// Config holds application configuration
type Config struct {
	LogLevel      string `yaml:"log_level" mapstructure:"log_level" default:"panic"`
	LogFile       string `yaml:"log_file" mapstructure:"log_file" default:""`
	EventBuffer   int    `yaml:"event_buffer" mapstructure:"event_buffer" default:"1024"`
	LogDeviceInfo bool   `yaml:"log_device_info" mapstructure:"log_device_info" default:"true"`

	Device   DeviceConfig  `yaml:"device" mapstructure:"device"`
	Scan     ScanConfig    `yaml:"scan" mapstructure:"scan"`
	Timeouts TimeoutConfig `yaml:"timeouts" mapstructure:"timeouts"`
}

// DeviceConfig identifies the AT-command peripheral
type DeviceConfig struct {
	NamePrefix  string `yaml:"name_prefix" mapstructure:"name_prefix" default:"surron-"`
	ServiceUUID string `yaml:"service_uuid" mapstructure:"service_uuid" default:"00006E50-0000-1000-8000-00805F9B34FB"`
	TXCharUUID  string `yaml:"tx_char_uuid" mapstructure:"tx_char_uuid" default:"00006E51-0000-1000-8000-00805F9B34FB"`
	RXCharUUID  string `yaml:"rx_char_uuid" mapstructure:"rx_char_uuid" default:"00006E52-0000-1000-8000-00805F9B34FB"`
}

// ScanConfig controls continuous discovery cadence and registry freshness
type ScanConfig struct {
	AutoStart     bool          `yaml:"auto_start" mapstructure:"auto_start" default:"true"`
	Window        time.Duration `yaml:"window" mapstructure:"window" default:"3s"`
	Pause         time.Duration `yaml:"pause" mapstructure:"pause" default:"1s"`
	Backoff       time.Duration `yaml:"backoff" mapstructure:"backoff" default:"5s"`
	StaleAfter    time.Duration `yaml:"stale_after" mapstructure:"stale_after" default:"30s"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval" default:"5s"`
}

// TimeoutConfig bounds every transport call
type TimeoutConfig struct {
	Connect      time.Duration `yaml:"connect" mapstructure:"connect" default:"10s"`
	Discover     time.Duration `yaml:"discover" mapstructure:"discover" default:"10s"`
	Write        time.Duration `yaml:"write" mapstructure:"write" default:"5s"`
	SendSettle   time.Duration `yaml:"send_settle" mapstructure:"send_settle" default:"100ms"`
	Unsubscribe  time.Duration `yaml:"unsubscribe" mapstructure:"unsubscribe" default:"2s"`
	Disconnect   time.Duration `yaml:"disconnect" mapstructure:"disconnect" default:"3s"`
	ShutdownStep time.Duration `yaml:"shutdown_step" mapstructure:"shutdown_step" default:"2s"`
	Shutdown     time.Duration `yaml:"shutdown" mapstructure:"shutdown" default:"5s"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	defaults.SetDefaults(&cfg.Device)
	defaults.SetDefaults(&cfg.Scan)
	defaults.SetDefaults(&cfg.Timeouts)
	return cfg
}

// Level parses LogLevel. An empty level means silent.
func (c *Config) Level() (logrus.Level, error) {
	if strings.TrimSpace(c.LogLevel) == "" {
		return logrus.PanicLevel, nil
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.PanicLevel, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Validate rejects values the session cannot run with
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be positive, got %d", c.EventBuffer)
	}

	if _, err := device.ValidateUUID(c.Device.ServiceUUID, c.Device.TXCharUUID, c.Device.RXCharUUID); err != nil {
		return fmt.Errorf("device: %w", err)
	}

	positive := []struct {
		key string
		val time.Duration
	}{
		{"scan.window", c.Scan.Window},
		{"scan.pause", c.Scan.Pause},
		{"scan.backoff", c.Scan.Backoff},
		{"scan.stale_after", c.Scan.StaleAfter},
		{"scan.sweep_interval", c.Scan.SweepInterval},
		{"timeouts.connect", c.Timeouts.Connect},
		{"timeouts.discover", c.Timeouts.Discover},
		{"timeouts.write", c.Timeouts.Write},
		{"timeouts.unsubscribe", c.Timeouts.Unsubscribe},
		{"timeouts.disconnect", c.Timeouts.Disconnect},
		{"timeouts.shutdown_step", c.Timeouts.ShutdownStep},
		{"timeouts.shutdown", c.Timeouts.Shutdown},
	}
	for _, p := range positive {
		if p.val <= 0 {
			return fmt.Errorf("%s must be positive, got %v", p.key, p.val)
		}
	}
	if c.Timeouts.SendSettle < 0 {
		return fmt.Errorf("timeouts.send_settle must not be negative, got %v", c.Timeouts.SendSettle)
	}

	return nil
}

// MatchesPrefix reports whether name starts with the configured device prefix, ignoring case
func (d DeviceConfig) MatchesPrefix(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), strings.ToLower(d.NamePrefix))
}

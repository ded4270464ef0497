package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/surronlog/internal/device"
	"github.com/srg/surronlog/internal/testutils"
	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"
)

// Test device identity shared by the command suites
const (
	TestDeviceAddress = "AA:BB:CC:DD:EE:01"
	TestDeviceName    = "Surron-4711"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writers a running command has
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite runs cobra commands against a fake BLE transport.
// All cmd/surronlog test suites should embed it.
type CommandTestSuite struct {
	suite.Suite

	Transport  *testutils.FakeTransport
	ConfigPath string

	originalFactory func(*logrus.Logger) (device.Transport, error)
}

func (s *CommandTestSuite) SetupSuite() {
	s.originalFactory = transportFactory
}

func (s *CommandTestSuite) TearDownSuite() {
	transportFactory = s.originalFactory
}

// SetupTest installs a fresh fake transport and a fast configuration file
func (s *CommandTestSuite) SetupTest() {
	s.Transport = testutils.NewFakeTransport()
	transportFactory = func(*logrus.Logger) (device.Transport, error) {
		return s.Transport, nil
	}

	data, err := yaml.Marshal(testutils.FastConfig())
	s.Require().NoError(err)
	s.ConfigPath = filepath.Join(s.T().TempDir(), "surronlog.yaml")
	s.Require().NoError(os.WriteFile(s.ConfigPath, data, 0o600))

	resetCommandFlags()
}

// resetCommandFlags restores every command flag variable to its default
func resetCommandFlags() {
	scanDuration = 0
	scanFormat = "table"
	consoleFindTimeout = 15 * time.Second
	consoleLinger = time.Second
	consoleTimestamps = false
	sendWait = 2 * time.Second
	sendFindTimeout = 15 * time.Second
	sendSession = false
	bridgeSymlink = ""
	bridgeEcho = false
	bridgeFindTimeout = 15 * time.Second
	bridgeBuffer = 4096
	configDefault = false
}

// AdvertiseSurron makes the fake transport advertise and serve a Surron device
// that answers every write with the payloads responder returns
func (s *CommandTestSuite) AdvertiseSurron(responder testutils.Responder) *testutils.FakePeripheral {
	p := testutils.NewFakePeripheral(TestDeviceAddress).WithSurronProfile()
	if responder != nil {
		p.WithResponder(responder)
	}
	s.Transport.
		WithAdvertisements(testutils.FakeAdvertisement{Name: TestDeviceName, Address: TestDeviceAddress, Rssi: -55}).
		WithPeripheral(p)
	return p
}

// ExecuteCommand runs the root command with args and the suite config, returns output and error
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	return s.ExecuteCommandWithInput("", args...)
}

// ExecuteCommandWithInput is ExecuteCommand with stdin fed from input
func (s *CommandTestSuite) ExecuteCommandWithInput(input string, args ...string) (string, error) {
	return s.ExecuteCommandContext(context.Background(), strings.NewReader(input), &syncBuffer{}, args...)
}

// ExecuteCommandContext runs the root command under ctx writing to out
func (s *CommandTestSuite) ExecuteCommandContext(ctx context.Context, in io.Reader, out *syncBuffer, args ...string) (string, error) {
	rootCmd.SetIn(in)
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs(append(args, "--config", s.ConfigPath, "--no-color"))
	defer rootCmd.SetArgs(nil)

	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

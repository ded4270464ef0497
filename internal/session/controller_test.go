package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/srg/surronlog/internal/config"
	"github.com/srg/surronlog/internal/device"
	"github.com/srg/surronlog/internal/events"
	"github.com/srg/surronlog/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// stuckTransport hands out links whose Disconnect ignores its context until released
type stuckTransport struct {
	*testutils.FakeTransport
	release chan struct{}
}

type stuckLink struct {
	device.Link
	release chan struct{}
}

func (l *stuckLink) Disconnect(context.Context) error {
	<-l.release
	return nil
}

func (t *stuckTransport) Connect(ctx context.Context, address string) (device.Link, error) {
	link, err := t.FakeTransport.Connect(ctx, address)
	if err != nil {
		return nil, err
	}
	return &stuckLink{Link: link, release: t.release}, nil
}

// panickingTransport fails every scan window with a panic
type panickingTransport struct {
	*testutils.FakeTransport
}

func (t *panickingTransport) Scan(context.Context, device.AdvertisementHandler) error {
	panic("radio exploded")
}

type ControllerTestSuite struct {
	suite.Suite
	helper    *testutils.TestHelper
	cfg       *config.Config
	transport *testutils.FakeTransport
}

func (s *ControllerTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.cfg = testutils.FastConfig()
	s.transport = testutils.NewFakeTransport().
		WithAdvertisements(testutils.FakeAdvertisement{Name: testName, Address: testAddress, Rssi: -60}).
		WithPeripheral(testutils.NewFakePeripheral(testAddress).WithSurronProfile())
}

func (s *ControllerTestSuite) newController(transport device.Transport) (*Controller, *testutils.EventRecorder) {
	ctrl, err := New(transport, s.cfg, s.helper.Logger)
	s.Require().NoError(err)
	s.T().Cleanup(ctrl.Shutdown)
	return ctrl, testutils.NewEventRecorder(ctrl.Events())
}

func (s *ControllerTestSuite) TestNewValidatesInput() {
	_, err := New(nil, s.cfg, s.helper.Logger)
	s.Error(err)

	s.cfg.Timeouts.Write = 0
	_, err = New(s.transport, s.cfg, s.helper.Logger)
	s.ErrorContains(err, "invalid config")
}

func (s *ControllerTestSuite) TestNewWithDefaults() {
	ctrl, err := New(s.transport, nil, nil)
	s.Require().NoError(err)
	defer ctrl.Shutdown()

	s.Equal(config.DefaultConfig().Timeouts, ctrl.Config().Timeouts)
}

func (s *ControllerTestSuite) TestAutoStartScanning() {
	ctrl, recorder := s.newController(s.transport)

	s.True(ctrl.Scanning())
	s.Eventually(func() bool {
		return recorder.Contains(events.DeviceDiscovered{Name: testName, Address: testAddress, RSSI: -60})
	}, waitFor, tick)

	rec, ok := ctrl.Device(testAddress)
	s.True(ok)
	s.Equal(testName, rec.Name)
	s.Len(ctrl.Devices(), 1)
}

func (s *ControllerTestSuite) TestAutoStartDisabled() {
	s.cfg.Scan.AutoStart = false
	ctrl, _ := s.newController(s.transport)

	time.Sleep(3 * s.cfg.Scan.Window)
	s.False(ctrl.Scanning())
	s.Equal(0, s.transport.ScanCalls())

	s.Require().NoError(ctrl.StartScan())
	s.Eventually(ctrl.Scanning, waitFor, tick)
	s.Require().NoError(ctrl.StopScan())
	s.Eventually(func() bool { return !ctrl.Scanning() }, waitFor, tick)
}

func (s *ControllerTestSuite) TestSessionEndToEnd() {
	// GOAL: Verify the full operator flow through the public API
	//
	// TEST SCENARIO: Discover → Connect → Send → notification → Disconnect → Shutdown;
	// every step observed through the event stream
	ctrl, recorder := s.newController(s.transport)

	s.Require().Eventually(func() bool {
		_, ok := ctrl.Device(testAddress)
		return ok
	}, waitFor, tick)

	s.Require().NoError(ctrl.Connect(testAddress))
	s.Require().Eventually(func() bool {
		return ctrl.State() == Ready
	}, waitFor, tick)
	s.Eventually(func() bool {
		return lastStatus(recorder) == "Connected to Surron-1234 (AA:BB:CC:DD:EE:FF)"
	}, waitFor, tick, "display name MUST come from the registry")
	s.True(ctrl.Scanning(), "scanning MUST continue while connected")

	s.Require().NoError(ctrl.Send(Presets["status"]))
	link := s.transport.LastLink()
	s.Require().Eventually(func() bool {
		return len(link.Writes()) == 1
	}, waitFor, tick)
	s.Equal("AT+LOGSTATUS\r\n", string(link.Writes()[0]))

	link.Notify([]byte("+LOGSTATUS: 12,0\r\nOK\r\n"))
	s.Eventually(func() bool {
		return assert.ObjectsAreEqual([]string{"+LOGSTATUS: 12,0", "OK"}, recorder.LogLines(events.CategoryReceived))
	}, waitFor, tick)

	s.Require().NoError(ctrl.Disconnect())
	s.Require().Eventually(func() bool {
		return ctrl.State() == Idle
	}, waitFor, tick)
	s.Eventually(func() bool {
		return lastStatus(recorder) == StatusDisconnected
	}, waitFor, tick)

	ctrl.Shutdown()
	s.waitClosed(recorder)
}

func (s *ControllerTestSuite) TestSendsKeepCallOrder() {
	// GOAL: Commands submitted back to back reach the link in call order
	//
	// TEST SCENARIO: Ready link with slow writes → 20 sends without waiting → writes match call order
	s.transport = testutils.NewFakeTransport().
		WithAdvertisements(testutils.FakeAdvertisement{Name: testName, Address: testAddress, Rssi: -60}).
		WithPeripheral(testutils.NewFakePeripheral(testAddress).WithSurronProfile().WithWriteDelay(time.Millisecond))
	ctrl, _ := s.newController(s.transport)

	s.Require().NoError(ctrl.Connect(testAddress))
	s.Require().Eventually(func() bool { return ctrl.State() == Ready }, waitFor, tick)

	var want []string
	for i := 1; i <= 20; i++ {
		cmd := LatestCommand(i)
		want = append(want, FrameCommand(cmd))
		s.Require().NoError(ctrl.Send(cmd))
	}

	link := s.transport.LastLink()
	s.Require().Eventually(func() bool { return len(link.Writes()) == len(want) }, waitFor, tick)

	var got []string
	for _, w := range link.Writes() {
		got = append(got, string(w))
	}
	s.Equal(want, got)
}

func (s *ControllerTestSuite) TestRequestsKeepCallOrder() {
	// GOAL: Requests issued back to back take effect in call order
	//
	// TEST SCENARIO: StartScan then StopScan without waiting → scanning ends off;
	// Connect then Disconnect without waiting → link ends Idle with no binding
	s.cfg.Scan.AutoStart = false
	ctrl, recorder := s.newController(s.transport)

	for i := 1; i <= 10; i++ {
		s.Require().NoError(ctrl.StartScan())
		s.Require().NoError(ctrl.StopScan())

		s.Require().Eventually(func() bool {
			return count(recorder.Statuses(), StatusScanStopped) == i
		}, waitFor, tick, "stop MUST run after start in round %d", i)
		s.False(ctrl.Scanning(), "scanning MUST end off in round %d", i)
	}

	for i := 1; i <= 5; i++ {
		s.Require().NoError(ctrl.Connect(testAddress))
		s.Require().NoError(ctrl.Disconnect())

		s.Require().Eventually(func() bool {
			return count(recorder.Statuses(), StatusDisconnected) == i
		}, waitFor, tick, "disconnect MUST run after connect in round %d", i)
		s.Equal(Idle, ctrl.State())
		s.False(ctrl.conn.HasBinding())
		s.Equal(i, s.transport.ConnectCalls())
		s.True(s.transport.LastLink().IsDisconnected())
	}
}

func (s *ControllerTestSuite) TestSendWithoutConnection() {
	ctrl, recorder := s.newController(s.transport)

	s.Require().NoError(ctrl.Send("AT+LOGSTATUS"), "request MUST be accepted and fail asynchronously")

	s.Eventually(func() bool {
		return recorder.HasLogLine(events.CategoryError, "device not connected")
	}, waitFor, tick)
}

func (s *ControllerTestSuite) TestConnectUnknownDevice() {
	ctrl, recorder := s.newController(s.transport)

	s.Require().NoError(ctrl.Connect("00:00:00:00:00:01"))

	s.Eventually(func() bool {
		return ctrl.State() == Failed
	}, waitFor, tick)
	s.Eventually(func() bool {
		return lastStatus(recorder) == StatusConnectionFailed
	}, waitFor, tick)
	s.True(ctrl.Scanning(), "scanning MUST continue after a failed connect")
}

func (s *ControllerTestSuite) TestShutdownTearsEverythingDown() {
	// GOAL: Verify shutdown disconnects, stops scanning and closes the event stream
	//
	// TEST SCENARIO: Connected session → Shutdown → link closed, state Idle, not scanning,
	// events channel closed, later requests rejected
	ctrl, recorder := s.newController(s.transport)
	s.Require().NoError(ctrl.Connect(testAddress))
	s.Require().Eventually(func() bool {
		return ctrl.State() == Ready
	}, waitFor, tick)
	link := s.transport.LastLink()

	ctrl.Shutdown()

	s.waitClosed(recorder)
	s.True(ctrl.ShuttingDown())
	s.False(ctrl.Scanning())
	s.Equal(Idle, ctrl.State())
	s.True(link.IsDisconnected(), "link MUST be closed on shutdown")
	s.Equal(1, link.UnsubscribeCalls())
	s.Contains(recorder.Statuses(), StatusShuttingDown)
	s.False(recorder.HasLogLine(events.CategorySuccess, "Disconnected from AA:BB:CC:DD:EE:FF"),
		"teardown during shutdown MUST stay quiet")

	for name, request := range map[string]func() error{
		"connect":    func() error { return ctrl.Connect(testAddress) },
		"disconnect": ctrl.Disconnect,
		"send":       func() error { return ctrl.Send("AT") },
		"start scan": ctrl.StartScan,
		"stop scan":  ctrl.StopScan,
	} {
		s.ErrorIs(request(), device.ErrShuttingDown, "%s MUST be rejected after shutdown", name)
	}
}

func (s *ControllerTestSuite) TestShutdownIsIdempotent() {
	ctrl, recorder := s.newController(s.transport)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctrl.Shutdown()
		}()
	}
	wg.Wait()
	ctrl.Shutdown()

	s.waitClosed(recorder)
	s.Equal(1, count(recorder.Statuses(), StatusShuttingDown))
}

func (s *ControllerTestSuite) TestShutdownReentryReturnsImmediately() {
	// GOAL: A second Shutdown call does not wait for the first one's teardown
	//
	// TEST SCENARIO: Ready link whose disconnect hangs → first Shutdown in the background →
	// second Shutdown returns while the first is still running → Done closes later
	stuck := &stuckTransport{FakeTransport: s.transport, release: make(chan struct{})}
	s.T().Cleanup(func() { close(stuck.release) })

	ctrl, recorder := s.newController(stuck)
	s.Require().NoError(ctrl.Connect(testAddress))
	s.Require().Eventually(func() bool {
		return ctrl.State() == Ready
	}, waitFor, tick)

	go ctrl.Shutdown()
	s.Require().Eventually(ctrl.ShuttingDown, waitFor, tick)

	returned := make(chan struct{})
	go func() {
		ctrl.Shutdown()
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(s.cfg.Timeouts.ShutdownStep):
		s.FailNow("second Shutdown MUST return without waiting")
	}

	select {
	case <-ctrl.Done():
		s.Fail("first Shutdown MUST still be tearing down")
	default:
	}

	select {
	case <-ctrl.Done():
	case <-time.After(waitFor):
		s.FailNow("Done MUST close once shutdown finishes")
	}
	s.waitClosed(recorder)
}

func (s *ControllerTestSuite) TestShutdownIsBounded() {
	// GOAL: Verify shutdown completes even when the transport never finishes disconnecting
	//
	// TEST SCENARIO: Disconnect blocks forever → Shutdown returns within the configured bounds
	// and local state is cleared
	stuck := &stuckTransport{FakeTransport: s.transport, release: make(chan struct{})}
	s.T().Cleanup(func() { close(stuck.release) })

	ctrl, recorder := s.newController(stuck)
	s.Require().NoError(ctrl.Connect(testAddress))
	s.Require().Eventually(func() bool {
		return ctrl.State() == Ready
	}, waitFor, tick)

	started := time.Now()
	ctrl.Shutdown()
	elapsed := time.Since(started)

	s.Less(elapsed, s.cfg.Timeouts.Shutdown+4*s.cfg.Timeouts.ShutdownStep+500*time.Millisecond)
	s.Equal(Idle, ctrl.State())
	s.False(ctrl.conn.HasBinding(), "handles MUST be cleared after a forced cleanup")
	s.waitClosed(recorder)
}

func (s *ControllerTestSuite) TestTaskPanicIsReported() {
	ctrl, recorder := s.newController(&panickingTransport{FakeTransport: s.transport})

	s.Eventually(func() bool {
		for _, line := range recorder.LogLines(events.CategoryError) {
			if strings.HasPrefix(line, "internal error:") && strings.Contains(line, "radio exploded") {
				return true
			}
		}
		return false
	}, waitFor, tick, "task panic MUST surface as an error log line")

	s.NoError(ctrl.Disconnect(), "controller MUST keep accepting requests after a task panic")
}

func (s *ControllerTestSuite) waitClosed(recorder *testutils.EventRecorder) {
	select {
	case <-recorder.Done():
	case <-time.After(waitFor):
		s.FailNow("event stream MUST be closed")
	}
}

func lastStatus(r *testutils.EventRecorder) string {
	statuses := r.Statuses()
	if len(statuses) == 0 {
		return ""
	}
	return statuses[len(statuses)-1]
}

func count(values []string, want string) int {
	n := 0
	for _, v := range values {
		if v == want {
			n++
		}
	}
	return n
}

func TestControllerTestSuite(t *testing.T) {
	suite.Run(t, new(ControllerTestSuite))
}

func TestNewRejectsNilTransport(t *testing.T) {
	ctrl, err := New(nil, nil, nil)
	require.Error(t, err)
	assert.Nil(t, ctrl)
}

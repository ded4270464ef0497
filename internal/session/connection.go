package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/srg/surronlog/internal/device"
	"github.com/srg/surronlog/internal/events"
	"github.com/srg/surronlog/internal/worker"
	"golang.org/x/sync/semaphore"
)

// Connection drives one device through connect, validate, subscribe and ready,
// and back to idle. At most one connect or disconnect sequence runs at a time.
type Connection struct {
	*core
	transport device.Transport
	guard     *semaphore.Weighted

	mu         sync.RWMutex
	state      ConnState
	address    string
	name       string
	link       device.Link
	tx         device.Characteristic
	rx         device.Characteristic
	subscribed bool
	monitor    *worker.Task
	cancelDial context.CancelFunc

	sendMu sync.Mutex
}

func newConnection(c *core, transport device.Transport) *Connection {
	return &Connection{
		core:      c,
		transport: transport,
		guard:     semaphore.NewWeighted(1),
	}
}

// State returns the current lifecycle state
func (m *Connection) State() ConnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Address returns the address of the current or last attempted peer
func (m *Connection) Address() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.address
}

// HasBinding reports whether the TX and RX handles are assigned
func (m *Connection) HasBinding() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tx != nil && m.rx != nil
}

func (m *Connection) writeTarget() (device.Link, device.Characteristic, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != Ready || m.link == nil {
		return nil, nil, false
	}
	return m.link, m.tx, true
}

// reject reports a refused request without touching the connection state
func (m *Connection) reject(state device.SessionState, msg string) error {
	err := &device.StateError{State: state, Msg: msg}
	m.logLine(events.CategoryError, "%s", err.Msg)
	return err
}

// Connect runs the full connect sequence for address. name is used for display only;
// an empty name is shown as UnknownName.
func (m *Connection) Connect(ctx context.Context, address, name string) error {
	if m.isShuttingDown() {
		return m.reject(device.ShuttingDown, "shutting down")
	}
	if !m.guard.TryAcquire(1) {
		return m.reject(device.Busy, "operation already in progress")
	}
	defer m.guard.Release(1)

	if st := m.State(); !st.canConnect() {
		return m.reject(device.AlreadyConnected, fmt.Sprintf("cannot connect while %s", st))
	}
	if name == "" {
		name = UnknownName
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	attempt := newAttemptID()
	log := m.logger.WithFields(logrus.Fields{
		"address": address,
		"attempt": attempt,
	})

	m.mu.Lock()
	m.state = Connecting
	m.address = address
	m.name = name
	m.cancelDial = cancel
	m.mu.Unlock()

	m.status(StatusConnecting)
	m.logLine(events.CategoryInfo, "Connecting to %s...", address)
	log.Info("Connecting to device...")

	dialCtx, dialCancel := context.WithTimeout(ctx, m.cfg.Timeouts.Connect)
	link, err := m.transport.Connect(dialCtx, address)
	dialCancel()
	if err != nil {
		err = m.classify(ctx, "connect", err, m.cfg.Timeouts.Connect)
		log.WithField("error", err).Warn("Failed to connect")
		m.failConnect(err)
		return err
	}

	if m.isShuttingDown() || ctx.Err() != nil {
		log.Info("Connect interrupted by shutdown, closing link")
		m.closeLink(link, m.cfg.Timeouts.ShutdownStep)
		m.clearLocal()
		return device.ErrShuttingDown
	}

	m.mu.Lock()
	m.state = ServiceDiscovery
	m.link = link
	m.mu.Unlock()
	log.Debug("Link established, discovering services")

	discoverCtx, discoverCancel := context.WithTimeout(ctx, m.cfg.Timeouts.Discover)
	services, err := link.DiscoverServices(discoverCtx)
	discoverCancel()
	if err != nil {
		err = m.classify(ctx, "discover services", err, m.cfg.Timeouts.Discover)
		log.WithField("error", err).Warn("Service discovery failed")
		m.abort(link, err)
		return err
	}

	profile := NewProfile(services)
	tx, err := profile.Characteristic(m.cfg.Device.ServiceUUID, m.cfg.Device.TXCharUUID)
	if err != nil {
		log.WithField("error", err).Warn("Device does not expose the AT service")
		m.abort(link, err)
		return err
	}
	rx, err := profile.Characteristic(m.cfg.Device.ServiceUUID, m.cfg.Device.RXCharUUID)
	if err != nil {
		log.WithField("error", err).Warn("Device does not expose the AT service")
		m.abort(link, err)
		return err
	}

	subscribed := m.subscribe(ctx, log, link, rx)

	if m.isShuttingDown() || ctx.Err() != nil {
		log.Info("Connect interrupted by shutdown, closing link")
		m.closeLink(link, m.cfg.Timeouts.ShutdownStep)
		m.clearLocal()
		return device.ErrShuttingDown
	}

	m.mu.Lock()
	m.state = Ready
	m.tx = tx
	m.rx = rx
	m.subscribed = subscribed
	m.cancelDial = nil
	m.mu.Unlock()

	m.emit(events.ConnectionStateChanged{Connected: true, State: Ready.String()})
	m.status(fmt.Sprintf(statusConnectedTemplate, name, address))
	m.logLine(events.CategorySuccess, "Connected to %s", name)
	log.WithField("services", profile.Len()).Info("Device ready")

	if m.cfg.LogDeviceInfo {
		for _, line := range profile.InfoLines() {
			m.logLine(events.CategoryInfo, "%s", line)
		}
	}

	m.watch(link)
	return nil
}

// subscribe enables RX notifications. Failure leaves the connection usable for writes.
func (m *Connection) subscribe(ctx context.Context, log *logrus.Entry, link device.Link, rx device.Characteristic) bool {
	if !rx.Properties().Has(device.PropNotify) && !rx.Properties().Has(device.PropIndicate) {
		log.Debug("RX characteristic advertises neither notify nor indicate, subscribing anyway")
	}

	subCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeouts.Discover)
	defer cancel()

	if err := link.Subscribe(subCtx, rx, m.handleNotification); err != nil {
		err = m.classify(ctx, "subscribe", err, m.cfg.Timeouts.Discover)
		log.WithField("error", err).Warn("Failed to enable notifications")
		m.logLine(events.CategoryWarning, "Failed to enable notifications: %v", err)
		return false
	}

	m.logLine(events.CategorySuccess, "Notifications enabled")
	return true
}

// watch starts a task that turns link loss reported by the transport into a disconnect
func (m *Connection) watch(link device.Link) {
	task, err := m.submit("link-monitor", func(ctx context.Context) {
		select {
		case <-link.Disconnected():
			m.linkLost(link)
		case <-ctx.Done():
		}
	})
	if err != nil {
		return
	}

	m.mu.Lock()
	m.monitor = task
	m.mu.Unlock()
}

// linkLost runs the disconnect path if link is still the active Ready link.
// It runs under the executor context because teardown cancels the link monitor.
func (m *Connection) linkLost(link device.Link) {
	m.mu.RLock()
	current := m.link == link && m.state == Ready
	m.mu.RUnlock()

	if !current || m.isShuttingDown() {
		return
	}

	m.logger.WithField("address", link.Address()).Warn("Connection lost")
	m.logLine(events.CategoryWarning, "Connection lost")

	_ = m.Disconnect(m.exec.Context())
}

// Disconnect tears the link down and always ends in Idle with handles cleared.
// A call made while another connect or disconnect runs returns immediately.
func (m *Connection) Disconnect(ctx context.Context) error {
	if !m.guard.TryAcquire(1) {
		m.logger.Debug("Connect or disconnect already in progress, ignoring disconnect")
		return nil
	}
	defer m.guard.Release(1)

	return m.teardown(ctx, m.cfg.Timeouts.Unsubscribe, m.cfg.Timeouts.Disconnect)
}

// teardown must be called with the guard held
func (m *Connection) teardown(ctx context.Context, unsubscribeTimeout, disconnectTimeout time.Duration) error {
	m.mu.Lock()
	link, rx := m.link, m.rx
	wasReady := m.state == Ready
	subscribed := m.subscribed
	address := m.address
	monitor := m.monitor
	if link != nil {
		m.state = Disconnecting
	}
	m.mu.Unlock()

	if link == nil {
		m.clearLocal()
		return nil
	}
	if monitor != nil {
		monitor.Cancel()
	}

	log := m.logger.WithField("address", address)
	log.Info("Disconnecting...")

	if wasReady {
		m.emit(events.ConnectionStateChanged{Connected: false, State: Disconnecting.String()})
	}

	var errs []error
	if subscribed && rx != nil {
		uctx, cancel := context.WithTimeout(ctx, unsubscribeTimeout)
		err := link.Unsubscribe(uctx, rx)
		cancel()
		if err != nil {
			err = m.classify(ctx, "unsubscribe", err, unsubscribeTimeout)
			log.WithField("error", err).Debug("Failed to stop notifications")
			errs = append(errs, err)
		} else if !m.isShuttingDown() {
			m.logLine(events.CategoryInfo, "Notifications stopped")
		}
	}

	dctx, cancel := context.WithTimeout(ctx, disconnectTimeout)
	err := link.Disconnect(dctx)
	cancel()
	if err != nil {
		err = m.classify(ctx, "disconnect", err, disconnectTimeout)
		log.WithField("error", err).Debug("Transport disconnect failed")
		errs = append(errs, err)
	} else if !m.isShuttingDown() {
		m.logLine(events.CategoryInfo, "BLE link closed")
	}

	m.clearLocal()

	if !m.isShuttingDown() {
		m.status(StatusDisconnected)
		m.logLine(events.CategorySuccess, "Disconnected from %s", address)
	}
	log.Info("Disconnected")

	return errors.Join(errs...)
}

// shutdownTeardown is the bounded disconnect used while the controller shuts down
func (m *Connection) shutdownTeardown(ctx context.Context) error {
	m.mu.RLock()
	cancelDial := m.cancelDial
	m.mu.RUnlock()
	if cancelDial != nil {
		cancelDial()
	}

	acquireCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeouts.ShutdownStep)
	defer cancel()
	if err := m.guard.Acquire(acquireCtx, 1); err != nil {
		return &device.TimeoutError{Op: "acquire connection guard", After: m.cfg.Timeouts.ShutdownStep}
	}
	defer m.guard.Release(1)

	return m.teardown(ctx, m.cfg.Timeouts.ShutdownStep, m.cfg.Timeouts.ShutdownStep)
}

// abort closes a half-open link and marks the attempt failed
func (m *Connection) abort(link device.Link, err error) {
	m.closeLink(link, m.cfg.Timeouts.Disconnect)
	m.failConnect(err)
}

func (m *Connection) closeLink(link device.Link, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := link.Disconnect(ctx); err != nil {
		m.logger.WithFields(logrus.Fields{
			"address": link.Address(),
			"error":   err,
		}).Debug("Best-effort disconnect failed")
	}
}

func (m *Connection) failConnect(err error) {
	m.mu.Lock()
	m.state = Failed
	m.link = nil
	m.tx = nil
	m.rx = nil
	m.subscribed = false
	m.cancelDial = nil
	m.mu.Unlock()

	if m.isShuttingDown() {
		return
	}
	m.status(StatusConnectionFailed)
	m.logLine(events.CategoryError, "Connection failed: %v", err)
}

// clearLocal resets every handle and flag and moves to Idle
func (m *Connection) clearLocal() {
	m.mu.Lock()
	monitor := m.monitor
	m.state = Idle
	m.link = nil
	m.tx = nil
	m.rx = nil
	m.subscribed = false
	m.monitor = nil
	m.cancelDial = nil
	m.mu.Unlock()

	if monitor != nil {
		monitor.Cancel()
	}
}

// classify turns context expiry into a TimeoutError and wraps untyped transport errors
func (m *Connection) classify(parent context.Context, op string, err error, timeout time.Duration) error {
	var (
		terr *device.TimeoutError
		serr *device.StateError
		perr *device.ProtocolError
		xerr *device.TransportError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil:
		return &device.TimeoutError{Op: op, After: timeout}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.As(err, &terr), errors.As(err, &serr), errors.As(err, &perr), errors.As(err, &xerr):
		return err
	default:
		return &device.TransportError{Op: op, Err: err}
	}
}

func newAttemptID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Package session implements the BLE session controller for Surron fault-log
// devices: continuous scanning, the connection lifecycle, the AT command channel
// and orderly shutdown. All BLE work runs on a background executor; callers only
// submit requests and read events.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/surronlog/internal/config"
	"github.com/srg/surronlog/internal/device"
	"github.com/srg/surronlog/internal/events"
	"github.com/srg/surronlog/internal/worker"
)

// Controller owns the scan engine, the connection manager and the executor they
// run on. Every public method returns without waiting for BLE I/O; results are
// reported through Events.
type Controller struct {
	*core
	scanner *Scanner
	conn    *Connection

	shutdownOnce sync.Once
	shutdownDone chan struct{}
}

// New creates a controller on top of transport and, when cfg.Scan.AutoStart is set,
// starts continuous scanning. A nil cfg means the defaults; a nil logger means a
// default logrus logger.
func New(transport device.Transport, cfg *config.Config, logger *logrus.Logger) (*Controller, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	c := &core{
		cfg:    cfg,
		logger: logger,
		bus:    events.NewBus(cfg.EventBuffer),
	}
	c.exec = worker.New(logger, worker.WithPanicHandler(func(name string, err error) {
		c.logLine(events.CategoryError, "internal error: %v", err)
	}))

	ctrl := &Controller{
		core:         c,
		scanner:      newScanner(c, transport),
		conn:         newConnection(c, transport),
		shutdownDone: make(chan struct{}),
	}

	if cfg.Scan.AutoStart {
		if err := ctrl.StartScan(); err != nil {
			ctrl.Shutdown()
			return nil, err
		}
	}

	return ctrl, nil
}

// Events returns the session event stream. It is closed at the end of Shutdown.
func (c *Controller) Events() <-chan events.Event {
	return c.bus.C()
}

// Config returns the configuration the controller runs with
func (c *Controller) Config() *config.Config {
	return c.cfg
}

// Devices returns a snapshot of the device registry
func (c *Controller) Devices() []DeviceRecord {
	return c.scanner.registry.Snapshot()
}

// Device returns the registry record for address
func (c *Controller) Device(address string) (DeviceRecord, bool) {
	return c.scanner.registry.Get(address)
}

// State returns the connection state
func (c *Controller) State() ConnState {
	return c.conn.State()
}

// Scanning reports whether continuous scanning is enabled
func (c *Controller) Scanning() bool {
	return c.scanner.Active()
}

// ShuttingDown reports whether Shutdown has been called
func (c *Controller) ShuttingDown() bool {
	return c.isShuttingDown()
}

// StartScan enables continuous scanning
func (c *Controller) StartScan() error {
	return c.schedule("start-scan", func(ctx context.Context) {
		if err := c.scanner.StartContinuous(); err != nil {
			c.logger.WithField("error", err).Debug("Start scan rejected")
		}
	})
}

// StopScan disables continuous scanning and clears the registry
func (c *Controller) StopScan() error {
	return c.schedule("stop-scan", func(ctx context.Context) {
		c.scanner.Stop()
	})
}

// Connect starts the connect sequence for address
func (c *Controller) Connect(address string) error {
	return c.schedule("connect", func(ctx context.Context) {
		name := ""
		if rec, ok := c.scanner.registry.Get(address); ok {
			name = rec.Name
		}
		_ = c.conn.Connect(ctx, address, name)
	})
}

// Disconnect tears down the current connection, if any
func (c *Controller) Disconnect() error {
	return c.schedule("disconnect", func(ctx context.Context) {
		_ = c.conn.Disconnect(ctx)
	})
}

// Send writes one AT command to the connected device
func (c *Controller) Send(command string) error {
	return c.schedule("send", func(ctx context.Context) {
		_ = c.conn.Send(ctx, command)
	})
}

// schedule queues a request unless the controller is shutting down. Requests run
// one at a time in call order.
func (c *Controller) schedule(name string, fn worker.Func) error {
	if c.isShuttingDown() {
		err := &device.StateError{State: device.ShuttingDown, Msg: fmt.Sprintf("cannot %s", name)}
		c.logger.WithField("task", name).Debug("Request rejected during shutdown")
		return err
	}
	_, err := c.submitOrdered(name, fn)
	return err
}

// Shutdown stops scanning, tears the connection down and stops the executor.
// Asynchronous cleanup is bounded by Timeouts.Shutdown; whatever it leaves behind
// is cleared synchronously. Only the first call does the work and blocks; later
// calls return at once. Use Done to wait for completion.
func (c *Controller) Shutdown() {
	first := false
	c.shutdownOnce.Do(func() { first = true })
	if !first {
		c.logger.Debug("Shutdown already requested")
		return
	}

	defer close(c.shutdownDone)
	c.shutdown()
}

// Done is closed once Shutdown has finished
func (c *Controller) Done() <-chan struct{} {
	return c.shutdownDone
}

func (c *Controller) shutdown() {
	start := time.Now()
	c.logger.Info("Shutting down session controller...")
	c.status(StatusShuttingDown)
	c.shuttingDown.Store(true)

	cleanup, err := c.exec.Submit("shutdown-cleanup", c.cleanupAsync)
	if err != nil {
		c.logger.WithField("error", err).Warn("Failed to schedule async cleanup")
	} else if !cleanup.Wait(c.cfg.Timeouts.Shutdown) {
		c.logger.WithField("timeout", c.cfg.Timeouts.Shutdown).Warn("Async cleanup timed out, forcing cleanup")
	}

	if !c.exec.Stop(c.cfg.Timeouts.ShutdownStep) {
		c.logger.Warn("Background tasks did not stop in time")
	}

	c.cleanupSync()
	c.bus.Close()

	c.logger.WithField("elapsed", time.Since(start)).Info("Session controller shut down")
}

// cleanupAsync runs on the executor: it cancels the scan loops and any pending
// connect, then unsubscribes and disconnects under ShutdownStep bounds.
func (c *Controller) cleanupAsync(ctx context.Context) {
	c.scanner.continuous.Store(false)
	c.scanner.cancelTasks()

	if err := c.conn.shutdownTeardown(ctx); err != nil {
		c.logger.WithField("error", err).Debug("Shutdown teardown finished with errors")
	}
}

// cleanupSync clears every handle and flag regardless of what the async cleanup achieved
func (c *Controller) cleanupSync() {
	c.scanner.continuous.Store(false)
	c.scanner.cancelTasks()
	c.conn.clearLocal()
}

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/surronlog/internal/device"
	"github.com/srg/surronlog/internal/events"
	"github.com/srg/surronlog/internal/worker"
)

// Scanner runs continuous discovery cycles and keeps the registry fresh
type Scanner struct {
	*core
	transport device.Transport
	registry  *Registry

	continuous atomic.Bool

	mu    sync.Mutex
	tasks []*worker.Task
}

func newScanner(c *core, transport device.Transport) *Scanner {
	return &Scanner{
		core:      c,
		transport: transport,
		registry:  NewRegistry(),
	}
}

// Active reports whether continuous scanning is enabled
func (s *Scanner) Active() bool {
	return s.continuous.Load()
}

// StartContinuous starts the scan cycle and sweep loops. Calling it while scanning
// is already enabled is a no-op.
func (s *Scanner) StartContinuous() error {
	if s.isShuttingDown() {
		return &device.StateError{State: device.ShuttingDown, Msg: "cannot start scanning"}
	}
	if !s.continuous.CompareAndSwap(false, true) {
		s.logger.Debug("Continuous scan already running")
		return nil
	}

	s.status(StatusScanning)
	s.logLine(events.CategoryInfo, "Continuous scanning started")
	s.logger.WithFields(logrus.Fields{
		"window": s.cfg.Scan.Window,
		"pause":  s.cfg.Scan.Pause,
		"prefix": s.cfg.Device.NamePrefix,
	}).Info("Starting continuous scan")

	cycle, err := s.submit("scan-cycle", s.runCycles)
	if err != nil {
		s.continuous.Store(false)
		return err
	}
	sweep, err := s.submit("scan-sweep", s.runSweep)
	if err != nil {
		cycle.Cancel()
		s.continuous.Store(false)
		return err
	}

	s.mu.Lock()
	s.tasks = append(s.tasks, cycle, sweep)
	s.mu.Unlock()

	return nil
}

// Stop disables continuous scanning, cancels the in-flight discovery window without
// waiting for it and clears the registry.
func (s *Scanner) Stop() {
	wasActive := s.continuous.Swap(false)
	s.cancelTasks()

	for _, rec := range s.registry.Clear() {
		if s.cfg.Device.MatchesPrefix(rec.Name) {
			s.emit(events.DeviceExpired{Address: rec.Address})
		}
	}

	if wasActive {
		s.logger.Info("Continuous scan stopped")
		s.status(StatusScanStopped)
		s.logLine(events.CategoryInfo, "Continuous scanning stopped")
	}
}

func (s *Scanner) cancelTasks() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
}

// running reports whether a loop bound to ctx should keep iterating
func (s *Scanner) running(ctx context.Context) bool {
	return ctx.Err() == nil && s.continuous.Load() && !s.isShuttingDown()
}

func (s *Scanner) runCycles(ctx context.Context) {
	for s.running(ctx) {
		s.emit(events.ScanStateChanged{Scanning: true})

		windowCtx, cancel := context.WithTimeout(ctx, s.cfg.Scan.Window)
		err := s.transport.Scan(windowCtx, s.handleAdvertisement)
		cancel()

		s.emit(events.ScanStateChanged{Scanning: false})

		if err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.logger.WithFields(logrus.Fields{
				"error":   err,
				"backoff": s.cfg.Scan.Backoff,
			}).Warn("Scan cycle failed, backing off")
			s.logLine(events.CategoryWarning, "Scan error: %v, retrying in %v", err, s.cfg.Scan.Backoff)

			if !sleep(ctx, s.cfg.Scan.Backoff) {
				return
			}
			continue
		}

		if !sleep(ctx, s.cfg.Scan.Pause) {
			return
		}
	}
}

func (s *Scanner) runSweep(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Scan.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.running(ctx) {
				return
			}
			s.sweep(now)
		}
	}
}

func (s *Scanner) sweep(now time.Time) {
	for _, rec := range s.registry.Sweep(now, s.cfg.Scan.StaleAfter) {
		s.logger.WithFields(logrus.Fields{
			"address":   rec.Address,
			"name":      rec.Name,
			"last_seen": rec.LastSeen,
		}).Debug("Device expired")

		if s.cfg.Device.MatchesPrefix(rec.Name) {
			s.emit(events.DeviceExpired{Address: rec.Address})
		}
	}
}

// handleAdvertisement updates the registry and reports prefix-matching devices
func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	if !s.continuous.Load() {
		return
	}

	rec := s.registry.Observe(adv.Addr(), adv.LocalName(), adv.RSSI(), time.Now())

	if s.cfg.Device.MatchesPrefix(rec.Name) {
		s.emit(events.DeviceDiscovered{Name: rec.Name, Address: rec.Address, RSSI: rec.RSSI})
	}
}

// sleep waits for d. Returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

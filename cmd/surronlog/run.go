package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/surronlog/internal/config"
	"github.com/srg/surronlog/internal/device"
	"github.com/srg/surronlog/internal/device/goble"
	"github.com/srg/surronlog/internal/events"
	"github.com/srg/surronlog/internal/groutine"
	"github.com/srg/surronlog/internal/session"
)

const devicePollInterval = 50 * time.Millisecond

// connectFailedPrefix starts the error line the session emits for a failed connect attempt
const connectFailedPrefix = "Connection failed: "

// transportFactory creates the BLE transport used by every command
var transportFactory = func(logger *logrus.Logger) (device.Transport, error) {
	return goble.NewTransport(logger), nil
}

// lockedWriter serializes writes from the printer, the progress line and the command itself
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// sessionTracker converts the event stream into the signals commands wait on
type sessionTracker struct {
	events.NopObserver

	ready  chan struct{}
	failed chan struct{}
	lost   chan struct{}

	mu        sync.Mutex
	lastError string
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{
		ready:  make(chan struct{}, 1),
		failed: make(chan struct{}, 1),
		lost:   make(chan struct{}, 1),
	}
}

func trySignal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (t *sessionTracker) OnConnectionStateChanged(ev events.ConnectionStateChanged) {
	if ev.Connected {
		trySignal(t.ready)
		return
	}
	trySignal(t.lost)
}

func (t *sessionTracker) OnLogLine(line events.LogLine) {
	if line.Category != events.CategoryError {
		return
	}

	t.mu.Lock()
	t.lastError = line.Text
	t.mu.Unlock()

	if strings.HasPrefix(line.Text, connectFailedPrefix) {
		trySignal(t.failed)
	}
}

// LastError returns the text of the most recent error line
func (t *sessionTracker) LastError() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastError
}

// runner owns one controller for the lifetime of a command
type runner struct {
	logger  *logrus.Logger
	ctrl    *session.Controller
	tracker *sessionTracker
	out     io.Writer

	dispatchDone chan struct{}
	closeOnce    sync.Once
}

// startSession creates the transport and the controller and starts delivering
// session events to the tracker followed by observers
func startSession(cfg *config.Config, logger *logrus.Logger, out io.Writer, observers ...events.Observer) (*runner, error) {
	transport, err := transportFactory(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE transport: %w", err)
	}

	ctrl, err := session.New(transport, cfg, logger)
	if err != nil {
		return nil, err
	}

	r := &runner{
		logger:       logger,
		ctrl:         ctrl,
		tracker:      newSessionTracker(),
		out:          out,
		dispatchDone: make(chan struct{}),
	}

	all := append(events.Observers{r.tracker}, observers...)
	groutine.Go(context.Background(), "event-dispatch", func(ctx context.Context) {
		defer close(r.dispatchDone)
		_ = events.Dispatch(ctx, ctrl.Events(), all)
	})

	return r, nil
}

// Close shuts the controller down and waits for the remaining events to be delivered
func (r *runner) Close() {
	r.closeOnce.Do(func() {
		r.ctrl.Shutdown()
		<-r.ctrl.Done()

		select {
		case <-r.dispatchDone:
		case <-time.After(time.Second):
			r.logger.Warn("Event dispatch did not finish after shutdown")
		}
	})
}

// waitForDevice polls the registry until address shows up, ignoring case
func (r *runner) waitForDevice(ctx context.Context, address string, timeout time.Duration) (session.DeviceRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(devicePollInterval)
	defer ticker.Stop()

	for {
		for _, rec := range r.ctrl.Devices() {
			if strings.EqualFold(rec.Address, address) {
				return rec, nil
			}
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return session.DeviceRecord{}, fmt.Errorf("device %s not found within %v", address, timeout)
			}
			return session.DeviceRecord{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// connect finds address, starts the connect sequence and waits for Ready or failure
func (r *runner) connect(ctx context.Context, address string, findTimeout time.Duration) (session.DeviceRecord, error) {
	rec, err := r.waitForDevice(ctx, address, findTimeout)
	if err != nil {
		return rec, err
	}

	progress := NewProgressPrinter(r.out, fmt.Sprintf("Connecting to %s (%s)", rec.Name, rec.Address), session.StatusConnecting)
	progress.Start()
	defer progress.Stop()

	if err := r.ctrl.Connect(rec.Address); err != nil {
		return rec, err
	}

	select {
	case <-r.tracker.ready:
		return rec, nil
	case <-r.tracker.failed:
		return rec, fmt.Errorf("%w: %s", ErrConnectFailed, strings.TrimPrefix(r.tracker.LastError(), connectFailedPrefix))
	case <-ctx.Done():
		return rec, ctx.Err()
	}
}

// signalContext returns a context cancelled by SIGINT or SIGTERM
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// newPrinter builds the terminal printer for cmd honoring --no-color
func newPrinter(cmd *cobra.Command, out io.Writer, opts PrinterOptions) *Printer {
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		opts.NoColor = true
	}
	return NewPrinter(out, opts)
}

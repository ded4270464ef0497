package main

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/surronlog/internal/ptyio"
	"github.com/srg/surronlog/internal/session"
)

// bridgeCmd represents the bridge command
var bridgeCmd = &cobra.Command{
	Use:   "bridge <device-address>",
	Short: "Expose the AT channel as a serial terminal (PTY)",
	Long: fmt.Sprintf(`Connects to a Surron device and exposes its AT command channel through a
pseudo-terminal, so serial tools (screen, minicom, picocom, scripts) can talk to
the fault log as if it were a wired serial port.

Each line typed on the PTY (CR or LF terminated) is sent as an AT command. Device
replies are written back CRLF-terminated. With --echo, sent commands and session
messages are also written to the PTY, prefixed with '>' and '#'.

Examples:
  # Start the bridge and attach with screen
  surronlog bridge %s
  screen /dev/pts/5

  # Stable path for tools configured in advance
  surronlog bridge %s --symlink /tmp/surron-tty

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runBridge,
}

var (
	bridgeSymlink     string
	bridgeEcho        bool
	bridgeFindTimeout time.Duration
	bridgeBuffer      int
)

func init() {
	bridgeCmd.Flags().StringVar(&bridgeSymlink, "symlink", "", "Create a symlink to the PTY at this path")
	bridgeCmd.Flags().BoolVar(&bridgeEcho, "echo", false, "Echo sent commands and session messages to the PTY")
	bridgeCmd.Flags().DurationVar(&bridgeFindTimeout, "find-timeout", 15*time.Second, "How long to scan for the device before giving up")
	bridgeCmd.Flags().IntVar(&bridgeBuffer, "buffer", 4096, "PTY ring buffer size in bytes, per direction")
}

func runBridge(cmd *cobra.Command, args []string) error {
	address := args[0]

	if bridgeBuffer <= 0 {
		return fmt.Errorf("invalid buffer size %d: must be positive", bridgeBuffer)
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, stop := signalContext(cmd)
	defer stop()

	port, err := ptyio.Open(ptyio.Options{
		ReadCap:  bridgeBuffer,
		WriteCap: bridgeBuffer,
		Logger:   logger,
		OnError: func(err error) {
			logger.WithField("error", err).Error("PTY I/O stopped")
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = port.Close() }()

	// Commands typed before the device is ready are refused
	var ctrl atomic.Pointer[session.Controller]
	bridge := ptyio.NewBridge(port, func(command string) error {
		c := ctrl.Load()
		if c == nil {
			return errors.New("device not connected")
		}
		return c.Send(command)
	}, logger)
	bridge.SetEcho(bridgeEcho)
	defer bridge.Close()

	if bridgeSymlink != "" {
		if err := createSymlink(port.TTYName(), bridgeSymlink); err != nil {
			return err
		}
		defer func() { _ = os.Remove(bridgeSymlink) }()
	}

	out := &lockedWriter{w: cmd.OutOrStdout()}
	printer := newPrinter(cmd, out, PrinterOptions{Session: true, Timestamp: true})

	r, err := startSession(cfg, logger, out, printer, bridge)
	if err != nil {
		return err
	}
	defer r.Close()

	rec, err := r.connect(ctx, address, bridgeFindTimeout)
	if err != nil {
		return err
	}
	ctrl.Store(r.ctrl)

	tty := port.TTYName()
	if bridgeSymlink != "" {
		tty = fmt.Sprintf("%s -> %s", bridgeSymlink, tty)
	}
	_, _ = fmt.Fprintf(out, "Bridging %s (%s) on %s, Ctrl+C to stop\n", rec.Name, rec.Address, tty)

	select {
	case <-ctx.Done():
		stats := port.Stats()
		logger.WithFields(logrus.Fields{
			"read_bytes":    stats.ReadBytesTotal,
			"write_bytes":   stats.WriteBytesTotal,
			"dropped_read":  stats.DroppedReadBytes,
			"dropped_write": stats.DroppedWriteBytes,
		}).Info("Bridge stopped")
		return ctx.Err()
	case <-r.tracker.lost:
		return ErrConnectionLost
	}
}

// createSymlink points link at target, replacing a stale symlink but never a regular file
func createSymlink(target, link string) error {
	if fi, err := os.Lstat(link); err == nil {
		if fi.Mode()&os.ModeSymlink == 0 {
			return fmt.Errorf("refusing to replace %s: not a symlink", link)
		}
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("failed to remove stale symlink %s: %w", link, err)
		}
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("failed to create symlink %s: %w", link, err)
	}
	return nil
}

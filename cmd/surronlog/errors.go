package main

import (
	"errors"
	"fmt"

	"github.com/srg/surronlog/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link dropped while a command was using it
	ErrConnectionLost = errors.New("connection lost")

	// ErrConnectFailed indicates the session reported a failed connect attempt
	ErrConnectFailed = errors.New("connection failed")
)

// FormatUserError turns a command error into a one-line message for the terminal
func FormatUserError(err error) string {
	var (
		terr *device.TimeoutError
		perr *device.ProtocolError
		serr *device.StateError
		xerr *device.TransportError
	)

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off. Enable it and try again."
	case errors.As(err, &terr):
		return fmt.Sprintf("%s timed out after %v. Is the device powered on and in range?", terr.Op, terr.After)
	case errors.As(err, &perr):
		return fmt.Sprintf("device is not a Surron fault log: %v", perr)
	case errors.As(err, &serr):
		return serr.Error()
	case errors.As(err, &xerr):
		return fmt.Sprintf("Bluetooth %s failed: %v", xerr.Op, xerr.Err)
	default:
		return err.Error()
	}
}

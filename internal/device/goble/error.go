package goble

import (
	"context"
	"fmt"

	"github.com/srg/surronlog/internal/device"
)

// NormalizeError maps known go-ble error strings to the structured device errors.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case device.ContainsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case device.ContainsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	case device.ContainsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	case device.ContainsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", device.ErrAlreadyConnected, err)
	default:
		return err
	}
}

// runWithContext runs a blocking go-ble call and abandons it once ctx is done.
// go-ble client calls are not context-aware, so the call itself keeps running in
// the background until the stack returns.
func runWithContext(ctx context.Context, fn func() error) error {
	resultCh := make(chan error, 1)

	go func() {
		resultCh <- fn()
	}()

	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

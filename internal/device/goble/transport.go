package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/surronlog/internal/device"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking as goble.DeviceFactory
var DeviceFactory = newPlatformDevice

// Transport implements device.Transport on top of github.com/go-ble/ble.
// A single ble.Device (one radio) is created lazily and shared by scanning and connecting.
type Transport struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

var _ device.Transport = (*Transport)(nil)

// NewTransport creates a go-ble transport. If the logger is nil, a default logger is used.
func NewTransport(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{logger: logger}
}

func (t *Transport) bleDevice() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev != nil {
		return t.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		t.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	t.dev = dev
	return dev, nil
}

// Scan reports advertisements with duplicates allowed, so that RSSI and last-seen
// timestamps stay fresh. Context expiry ends the scan without error.
func (t *Transport) Scan(ctx context.Context, handler device.AdvertisementHandler) error {
	dev, err := t.bleDevice()
	if err != nil {
		return err
	}

	bleHandler := func(adv ble.Advertisement) {
		handler(&advertisement{adv: adv})
	}

	err = dev.Scan(ctx, true, bleHandler)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return NormalizeError(err)
}

// Connect dials the peripheral with the given address
func (t *Transport) Connect(ctx context.Context, address string) (device.Link, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	dev, err := t.bleDevice()
	if err != nil {
		return nil, err
	}

	t.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Debug("Failed to dial BLE device")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, NormalizeError(err)
	}

	return newLink(client, address, t.logger), nil
}

// advertisement adapts ble.Advertisement to device.Advertisement
type advertisement struct {
	adv ble.Advertisement
}

func (a *advertisement) LocalName() string { return a.adv.LocalName() }
func (a *advertisement) RSSI() int         { return a.adv.RSSI() }

// Addr returns the peer address upper-cased so MAC addresses read the same on every platform
func (a *advertisement) Addr() string {
	if a.adv.Addr() == nil {
		return ""
	}
	return strings.ToUpper(a.adv.Addr().String())
}

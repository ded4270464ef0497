package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/surronlog/internal/device"
	"github.com/srg/surronlog/internal/groutine"
)

// link implements device.Link for a connected go-ble client
type link struct {
	client  ble.Client
	address string
	logger  *logrus.Logger

	writeMutex   sync.Mutex
	disconnected chan struct{}
	closeOnce    sync.Once
}

func newLink(client ble.Client, address string, logger *logrus.Logger) *link {
	l := &link{
		client:       client,
		address:      address,
		logger:       logger,
		disconnected: make(chan struct{}),
	}

	// Monitor the go-ble client Disconnected() channel so link loss is observable
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-link-monitor", func(ctx context.Context) {
			select {
			case <-dc.Disconnected():
				l.logger.WithField("address", address).Debug("BLE stack reported disconnection")
				l.markDisconnected()
			case <-l.disconnected:
			}
		})
	} else {
		l.logger.Debug("Client does not support Disconnected() channel")
	}

	return l
}

func (l *link) markDisconnected() {
	l.closeOnce.Do(func() {
		close(l.disconnected)
	})
}

func (l *link) Address() string {
	return l.address
}

func (l *link) Disconnected() <-chan struct{} {
	return l.disconnected
}

// DiscoverServices discovers the full GATT profile, including descriptors, so that
// CCCDs are known before subscribing.
func (l *link) DiscoverServices(ctx context.Context) ([]device.Service, error) {
	var profile *ble.Profile
	err := runWithContext(ctx, func() error {
		var err error
		profile, err = l.client.DiscoverProfile(true)
		return err
	})
	if err != nil {
		return nil, NormalizeError(err)
	}
	if profile == nil {
		return nil, nil
	}

	services := make([]device.Service, 0, len(profile.Services))
	for _, bleSvc := range profile.Services {
		svc := &service{uuid: device.NormalizeUUID(bleSvc.UUID.String())}
		for _, bleChar := range bleSvc.Characteristics {
			svc.chars = append(svc.chars, &characteristic{
				uuid:  device.NormalizeUUID(bleChar.UUID.String()),
				props: convertProperties(bleChar.Property),
				ble:   bleChar,
			})
		}
		services = append(services, svc)
	}

	l.logger.WithFields(logrus.Fields{
		"address":  l.address,
		"services": len(services),
	}).Debug("Profile discovered successfully")

	return services, nil
}

// Write sends data to the characteristic. Write-with-response is preferred when the
// characteristic supports it.
func (l *link) Write(ctx context.Context, char device.Characteristic, data []byte) error {
	c, err := asCharacteristic(char)
	if err != nil {
		return err
	}

	noRsp := !c.props.Has(device.PropWrite) && c.props.Has(device.PropWriteWithoutResponse)

	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()

	return NormalizeError(runWithContext(ctx, func() error {
		return l.client.WriteCharacteristic(c.ble, data, noRsp)
	}))
}

// Subscribe enables notifications, falling back to indications when notify is not supported
func (l *link) Subscribe(ctx context.Context, char device.Characteristic, handler device.NotificationHandler) error {
	c, err := asCharacteristic(char)
	if err != nil {
		return err
	}

	ind := useIndication(c.props)
	return NormalizeError(runWithContext(ctx, func() error {
		return l.client.Subscribe(c.ble, ind, func(data []byte) {
			handler(data)
		})
	}))
}

func (l *link) Unsubscribe(ctx context.Context, char device.Characteristic) error {
	c, err := asCharacteristic(char)
	if err != nil {
		return err
	}

	ind := useIndication(c.props)
	return NormalizeError(runWithContext(ctx, func() error {
		return l.client.Unsubscribe(c.ble, ind)
	}))
}

// Disconnect cancels the connection. The link is considered down afterwards even when
// the stack reports an error.
func (l *link) Disconnect(ctx context.Context) error {
	defer l.markDisconnected()

	return NormalizeError(runWithContext(ctx, func() error {
		return l.client.CancelConnection()
	}))
}

func useIndication(props device.Properties) bool {
	return !props.Has(device.PropNotify) && props.Has(device.PropIndicate)
}

func asCharacteristic(char device.Characteristic) (*characteristic, error) {
	c, ok := char.(*characteristic)
	if !ok || c == nil || c.ble == nil {
		return nil, fmt.Errorf("characteristic %T does not belong to the go-ble transport", char)
	}
	return c, nil
}

type service struct {
	uuid  string
	chars []device.Characteristic
}

func (s *service) UUID() string                             { return s.uuid }
func (s *service) Characteristics() []device.Characteristic { return s.chars }

type characteristic struct {
	uuid  string
	props device.Properties
	ble   *ble.Characteristic
}

func (c *characteristic) UUID() string                 { return c.uuid }
func (c *characteristic) Properties() device.Properties { return c.props }

// convertProperties maps ble.Property bit flags onto device.Properties
func convertProperties(p ble.Property) device.Properties {
	var props device.Properties

	if p&ble.CharBroadcast != 0 {
		props |= device.PropBroadcast
	}
	if p&ble.CharRead != 0 {
		props |= device.PropRead
	}
	if p&ble.CharWriteNR != 0 {
		props |= device.PropWriteWithoutResponse
	}
	if p&ble.CharWrite != 0 {
		props |= device.PropWrite
	}
	if p&ble.CharNotify != 0 {
		props |= device.PropNotify
	}
	if p&ble.CharIndicate != 0 {
		props |= device.PropIndicate
	}
	if p&ble.CharSignedWrite != 0 {
		props |= device.PropSignedWrite
	}
	if p&ble.CharExtended != 0 {
		props |= device.PropExtended
	}

	return props
}

package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/srg/surronlog/internal/device"
)

// Surron AT-command profile in short form
const (
	SurronServiceUUID = "6e50"
	SurronTXCharUUID  = "6e51"
	SurronRXCharUUID  = "6e52"
)

// FakeCharacteristic implements device.Characteristic
type FakeCharacteristic struct {
	uuid  string
	props device.Properties
}

func (c *FakeCharacteristic) UUID() string                  { return c.uuid }
func (c *FakeCharacteristic) Properties() device.Properties { return c.props }

// FakeService implements device.Service
type FakeService struct {
	uuid  string
	chars []device.Characteristic
}

func (s *FakeService) UUID() string                             { return s.uuid }
func (s *FakeService) Characteristics() []device.Characteristic { return s.chars }

// FakePeripheral describes how a connectable device behaves once dialed
type FakePeripheral struct {
	address  string
	services []*FakeService

	discoverErr    error
	subscribeErr   error
	unsubscribeErr error
	disconnectErr  error
	writeErr       error

	discoverDelay   time.Duration
	writeDelay      time.Duration
	disconnectDelay time.Duration

	responder Responder
}

// Responder produces the notification payloads a peripheral sends back for a write
type Responder func(written []byte) [][]byte

// NewFakePeripheral creates a peripheral with no services
func NewFakePeripheral(address string) *FakePeripheral {
	return &FakePeripheral{address: address}
}

// Address returns the peripheral address
func (p *FakePeripheral) Address() string { return p.address }

// WithService adds a service to the profile
func (p *FakePeripheral) WithService(uuid string) *FakePeripheral {
	p.services = append(p.services, &FakeService{uuid: device.NormalizeUUID(uuid)})
	return p
}

// WithCharacteristic adds a characteristic to the last added service
func (p *FakePeripheral) WithCharacteristic(uuid string, props device.Properties) *FakePeripheral {
	if len(p.services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := p.services[len(p.services)-1]
	last.chars = append(last.chars, &FakeCharacteristic{uuid: device.NormalizeUUID(uuid), props: props})
	return p
}

// WithSurronProfile adds the AT-command service with its TX and RX characteristics
func (p *FakePeripheral) WithSurronProfile() *FakePeripheral {
	return p.WithService(SurronServiceUUID).
		WithCharacteristic(SurronTXCharUUID, device.PropWrite|device.PropWriteWithoutResponse).
		WithCharacteristic(SurronRXCharUUID, device.PropNotify)
}

func (p *FakePeripheral) WithDiscoverError(err error) *FakePeripheral {
	p.discoverErr = err
	return p
}

func (p *FakePeripheral) WithSubscribeError(err error) *FakePeripheral {
	p.subscribeErr = err
	return p
}

func (p *FakePeripheral) WithUnsubscribeError(err error) *FakePeripheral {
	p.unsubscribeErr = err
	return p
}

func (p *FakePeripheral) WithDisconnectError(err error) *FakePeripheral {
	p.disconnectErr = err
	return p
}

func (p *FakePeripheral) WithWriteError(err error) *FakePeripheral {
	p.writeErr = err
	return p
}

// WithDiscoverDelay makes service discovery block for d or until its context ends
func (p *FakePeripheral) WithDiscoverDelay(d time.Duration) *FakePeripheral {
	p.discoverDelay = d
	return p
}

// WithWriteDelay makes every write block for d or until its context ends
func (p *FakePeripheral) WithWriteDelay(d time.Duration) *FakePeripheral {
	p.writeDelay = d
	return p
}

// WithDisconnectDelay makes disconnect block for d or until its context ends
func (p *FakePeripheral) WithDisconnectDelay(d time.Duration) *FakePeripheral {
	p.disconnectDelay = d
	return p
}

// WithResponder makes every successful write answer with the payloads r returns
func (p *FakePeripheral) WithResponder(r Responder) *FakePeripheral {
	p.responder = r
	return p
}

// FakeLink implements device.Link and records every call made on it
type FakeLink struct {
	peripheral *FakePeripheral

	mu               sync.Mutex
	writes           [][]byte
	handler          device.NotificationHandler
	subscribeCalls   int
	unsubscribeCalls int
	disconnectCalls  int
	disconnected     chan struct{}
	disconnectedOnce sync.Once
}

var _ device.Link = (*FakeLink)(nil)

func newFakeLink(p *FakePeripheral) *FakeLink {
	return &FakeLink{peripheral: p, disconnected: make(chan struct{})}
}

func (l *FakeLink) Address() string { return l.peripheral.address }

func (l *FakeLink) Disconnected() <-chan struct{} { return l.disconnected }

func (l *FakeLink) DiscoverServices(ctx context.Context) ([]device.Service, error) {
	if err := sleepCtx(ctx, l.peripheral.discoverDelay); err != nil {
		return nil, err
	}
	if l.peripheral.discoverErr != nil {
		return nil, l.peripheral.discoverErr
	}

	services := make([]device.Service, 0, len(l.peripheral.services))
	for _, s := range l.peripheral.services {
		services = append(services, s)
	}
	return services, nil
}

func (l *FakeLink) Write(ctx context.Context, _ device.Characteristic, data []byte) error {
	if err := sleepCtx(ctx, l.peripheral.writeDelay); err != nil {
		return err
	}
	if l.peripheral.writeErr != nil {
		return l.peripheral.writeErr
	}

	l.mu.Lock()
	l.writes = append(l.writes, append([]byte(nil), data...))
	l.mu.Unlock()

	if l.peripheral.responder != nil {
		for _, payload := range l.peripheral.responder(data) {
			l.Notify(payload)
		}
	}
	return nil
}

func (l *FakeLink) Subscribe(_ context.Context, _ device.Characteristic, handler device.NotificationHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.subscribeCalls++
	if l.peripheral.subscribeErr != nil {
		return l.peripheral.subscribeErr
	}
	l.handler = handler
	return nil
}

func (l *FakeLink) Unsubscribe(_ context.Context, _ device.Characteristic) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.unsubscribeCalls++
	l.handler = nil
	return l.peripheral.unsubscribeErr
}

func (l *FakeLink) Disconnect(ctx context.Context) error {
	l.mu.Lock()
	l.disconnectCalls++
	l.mu.Unlock()

	err := sleepCtx(ctx, l.peripheral.disconnectDelay)
	l.Drop()
	if err != nil {
		return err
	}
	return l.peripheral.disconnectErr
}

// Notify delivers a payload to the subscribed handler. Returns false if nothing is subscribed.
func (l *FakeLink) Notify(payload []byte) bool {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()

	if h == nil {
		return false
	}
	h(payload)
	return true
}

// Drop simulates link loss reported by the radio stack
func (l *FakeLink) Drop() {
	l.disconnectedOnce.Do(func() {
		close(l.disconnected)
	})
}

// Writes returns a copy of every payload written so far
func (l *FakeLink) Writes() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([][]byte, len(l.writes))
	copy(out, l.writes)
	return out
}

// Subscribed reports whether a notification handler is currently installed
func (l *FakeLink) Subscribed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handler != nil
}

func (l *FakeLink) SubscribeCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subscribeCalls
}

func (l *FakeLink) UnsubscribeCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unsubscribeCalls
}

func (l *FakeLink) DisconnectCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disconnectCalls
}

// IsDisconnected reports whether the link has been dropped or disconnected
func (l *FakeLink) IsDisconnected() bool {
	select {
	case <-l.disconnected:
		return true
	default:
		return false
	}
}

// sleepCtx waits for d, returning the context error if ctx ends first
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

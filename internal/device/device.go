package device

import (
	"context"
)

// Advertisement is the subset of an advertising packet the session cares about
type Advertisement interface {
	LocalName() string
	RSSI() int
	Addr() string
}

// AdvertisementHandler is invoked for every advertisement observed during a scan.
// It may be called from a transport-owned goroutine.
type AdvertisementHandler func(Advertisement)

// NotificationHandler receives raw notification payloads from a subscribed characteristic.
// The payload slice must not be retained after the handler returns.
type NotificationHandler func(payload []byte)

// Transport is the radio capability set consumed by the session controller.
// All operations are bounded by the provided context.
type Transport interface {
	// Scan reports advertisements until ctx is done. Returning because ctx expired is not an error.
	Scan(ctx context.Context, handler AdvertisementHandler) error

	// Connect establishes a link-layer connection to the device with the given address.
	Connect(ctx context.Context, address string) (Link, error)
}

// Link is a single live connection to a peripheral
type Link interface {
	Address() string
	DiscoverServices(ctx context.Context) ([]Service, error)
	Write(ctx context.Context, char Characteristic, data []byte) error
	Subscribe(ctx context.Context, char Characteristic, handler NotificationHandler) error
	Unsubscribe(ctx context.Context, char Characteristic) error
	Disconnect(ctx context.Context) error

	// Disconnected is closed when the transport observes the link going down,
	// whether requested locally or not.
	Disconnected() <-chan struct{}
}

// Service represents a discovered GATT service
type Service interface {
	UUID() string
	Characteristics() []Characteristic
}

// Characteristic represents a discovered GATT characteristic.
// Transports type-assert it back to their own handle type.
type Characteristic interface {
	UUID() string
	Properties() Properties
}

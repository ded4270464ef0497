package events

import "context"

// Observer receives session events one at a time, in emission order
type Observer interface {
	OnDeviceDiscovered(DeviceDiscovered)
	OnDeviceExpired(DeviceExpired)
	OnScanStateChanged(ScanStateChanged)
	OnConnectionStateChanged(ConnectionStateChanged)
	OnStatusChanged(StatusChanged)
	OnLogLine(LogLine)
}

// NopObserver ignores every event. Embed it to implement only the callbacks you need.
type NopObserver struct{}

func (NopObserver) OnDeviceDiscovered(DeviceDiscovered)             {}
func (NopObserver) OnDeviceExpired(DeviceExpired)                   {}
func (NopObserver) OnScanStateChanged(ScanStateChanged)             {}
func (NopObserver) OnConnectionStateChanged(ConnectionStateChanged) {}
func (NopObserver) OnStatusChanged(StatusChanged)                   {}
func (NopObserver) OnLogLine(LogLine)                               {}

// Deliver routes a single event to the matching observer callback
func Deliver(ev Event, o Observer) {
	switch e := ev.(type) {
	case DeviceDiscovered:
		o.OnDeviceDiscovered(e)
	case DeviceExpired:
		o.OnDeviceExpired(e)
	case ScanStateChanged:
		o.OnScanStateChanged(e)
	case ConnectionStateChanged:
		o.OnConnectionStateChanged(e)
	case StatusChanged:
		o.OnStatusChanged(e)
	case LogLine:
		o.OnLogLine(e)
	}
}

// Dispatch delivers events from ch to o until ch is closed or ctx is done.
// It returns ctx.Err() on cancellation and nil when the channel is drained and closed.
func Dispatch(ctx context.Context, ch <-chan Event, o Observer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			Deliver(ev, o)
		}
	}
}

// Observers fans every event out to each member in order
type Observers []Observer

func (obs Observers) OnDeviceDiscovered(e DeviceDiscovered) {
	for _, o := range obs {
		o.OnDeviceDiscovered(e)
	}
}

func (obs Observers) OnDeviceExpired(e DeviceExpired) {
	for _, o := range obs {
		o.OnDeviceExpired(e)
	}
}

func (obs Observers) OnScanStateChanged(e ScanStateChanged) {
	for _, o := range obs {
		o.OnScanStateChanged(e)
	}
}

func (obs Observers) OnConnectionStateChanged(e ConnectionStateChanged) {
	for _, o := range obs {
		o.OnConnectionStateChanged(e)
	}
}

func (obs Observers) OnStatusChanged(e StatusChanged) {
	for _, o := range obs {
		o.OnStatusChanged(e)
	}
}

func (obs Observers) OnLogLine(e LogLine) {
	for _, o := range obs {
		o.OnLogLine(e)
	}
}

package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/srg/surronlog/internal/device"
)

// FakeAdvertisement implements device.Advertisement
type FakeAdvertisement struct {
	Name    string
	Address string
	Rssi    int
}

func (a FakeAdvertisement) LocalName() string { return a.Name }
func (a FakeAdvertisement) RSSI() int         { return a.Rssi }
func (a FakeAdvertisement) Addr() string      { return a.Address }

// FakeTransport implements device.Transport with programmable advertisements,
// peripherals and failures.
//
// Every Scan call first returns the next queued scan error, if any; otherwise it
// reports the current advertisement set and then blocks until its context ends,
// like a real discovery window.
type FakeTransport struct {
	mu sync.Mutex

	advertisements []FakeAdvertisement
	scanErrs       []error
	scanCalls      int
	scanning       int

	peripherals  map[string]*FakePeripheral
	connectErr   error
	connectDelay time.Duration
	connectCalls int
	links        []*FakeLink
}

var _ device.Transport = (*FakeTransport)(nil)

// NewFakeTransport creates an empty fake transport
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{peripherals: make(map[string]*FakePeripheral)}
}

// WithAdvertisements replaces the advertisement set reported by each scan window
func (t *FakeTransport) WithAdvertisements(ads ...FakeAdvertisement) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advertisements = append([]FakeAdvertisement(nil), ads...)
	return t
}

// WithScanErrors queues errors returned by the next Scan calls, one per call
func (t *FakeTransport) WithScanErrors(errs ...error) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scanErrs = append(t.scanErrs, errs...)
	return t
}

// WithPeripheral registers a connectable peripheral
func (t *FakeTransport) WithPeripheral(p *FakePeripheral) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peripherals[strings.ToUpper(p.address)] = p
	return t
}

// WithConnectError makes every Connect fail with err
func (t *FakeTransport) WithConnectError(err error) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErr = err
	return t
}

// WithConnectDelay makes Connect block for d or until its context ends
func (t *FakeTransport) WithConnectDelay(d time.Duration) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectDelay = d
	return t
}

func (t *FakeTransport) Scan(ctx context.Context, handler device.AdvertisementHandler) error {
	t.mu.Lock()
	t.scanCalls++
	if len(t.scanErrs) > 0 {
		err := t.scanErrs[0]
		t.scanErrs = t.scanErrs[1:]
		t.mu.Unlock()
		return err
	}
	ads := append([]FakeAdvertisement(nil), t.advertisements...)
	t.scanning++
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.scanning--
		t.mu.Unlock()
	}()

	for _, adv := range ads {
		if ctx.Err() != nil {
			return nil
		}
		handler(adv)
	}

	<-ctx.Done()
	return nil
}

func (t *FakeTransport) Connect(ctx context.Context, address string) (device.Link, error) {
	t.mu.Lock()
	t.connectCalls++
	delay := t.connectDelay
	connectErr := t.connectErr
	p, ok := t.peripherals[strings.ToUpper(address)]
	t.mu.Unlock()

	if err := sleepCtx(ctx, delay); err != nil {
		return nil, err
	}
	if connectErr != nil {
		return nil, connectErr
	}
	if !ok {
		return nil, &device.TransportError{Op: "connect", Err: fmt.Errorf("no peripheral at %s", address)}
	}

	link := newFakeLink(p)
	t.mu.Lock()
	t.links = append(t.links, link)
	t.mu.Unlock()

	return link, nil
}

// ScanCalls returns how many times Scan has been called
func (t *FakeTransport) ScanCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scanCalls
}

// Scanning reports whether a scan window is currently open
func (t *FakeTransport) Scanning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scanning > 0
}

// ConnectCalls returns how many times Connect has been called
func (t *FakeTransport) ConnectCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectCalls
}

// Links returns every link handed out so far
func (t *FakeTransport) Links() []*FakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*FakeLink(nil), t.links...)
}

// LastLink returns the most recent link, or nil
func (t *FakeTransport) LastLink() *FakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.links) == 0 {
		return nil
	}
	return t.links[len(t.links)-1]
}

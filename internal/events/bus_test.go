package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_EmitAndReceiveInOrder(t *testing.T) {
	bus := NewBus(4)

	bus.Emit(StatusChanged{Status: "a"})
	bus.Emit(StatusChanged{Status: "b"})

	require.Equal(t, 2, bus.Len())
	assert.Equal(t, StatusChanged{Status: "a"}, <-bus.C())
	assert.Equal(t, StatusChanged{Status: "b"}, <-bus.C())
}

func TestBus_OverwritesOldestWhenFull(t *testing.T) {
	bus := NewBus(2)

	assert.False(t, bus.Emit(DeviceExpired{Address: "1"}))
	assert.False(t, bus.Emit(DeviceExpired{Address: "2"}))
	assert.True(t, bus.Emit(DeviceExpired{Address: "3"}), "third emit MUST overwrite the oldest event")

	assert.Equal(t, DeviceExpired{Address: "2"}, <-bus.C())
	assert.Equal(t, DeviceExpired{Address: "3"}, <-bus.C())

	m := bus.GetMetrics()
	assert.Equal(t, int64(3), m.Written)
	assert.Equal(t, int64(1), m.Overwritten)
}

func TestBus_EmitAfterCloseIsDropped(t *testing.T) {
	bus := NewBus(2)
	bus.Emit(StatusChanged{Status: "last"})
	bus.Close()
	bus.Close()

	assert.NotPanics(t, func() {
		bus.Emit(StatusChanged{Status: "late"})
	})
	assert.True(t, bus.Closed())
	assert.Equal(t, int64(1), bus.GetMetrics().Dropped)

	ev, ok := <-bus.C()
	require.True(t, ok, "buffered events MUST survive Close")
	assert.Equal(t, StatusChanged{Status: "last"}, ev)

	_, ok = <-bus.C()
	assert.False(t, ok)
}

func TestBus_ConcurrentProducersNeverBlock(t *testing.T) {
	bus := NewBus(8)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Emit(ScanStateChanged{Scanning: j%2 == 0})
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producers MUST NOT block on a full bus")
	}
	assert.Equal(t, 8, bus.Len())
	assert.Equal(t, int64(800), bus.GetMetrics().Written)
}

func TestNewBus_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewBus(0).Cap())
}

type recordingObserver struct {
	NopObserver
	got []Event
}

func (r *recordingObserver) OnDeviceDiscovered(e DeviceDiscovered) { r.got = append(r.got, e) }
func (r *recordingObserver) OnDeviceExpired(e DeviceExpired)       { r.got = append(r.got, e) }
func (r *recordingObserver) OnLogLine(e LogLine)                   { r.got = append(r.got, e) }

func TestDispatch_DeliversUntilClosed(t *testing.T) {
	bus := NewBus(8)
	line := NewLogLine(CategoryReceived, "AT")
	bus.Emit(DeviceDiscovered{Name: "Surron-1234", Address: "AA:BB:CC:DD:EE:FF", RSSI: -60})
	bus.Emit(StatusChanged{Status: "ignored by observer"})
	bus.Emit(line)
	bus.Emit(DeviceExpired{Address: "AA:BB:CC:DD:EE:FF"})
	bus.Close()

	obs := &recordingObserver{}
	err := Dispatch(context.Background(), bus.C(), obs)

	require.NoError(t, err)
	assert.Equal(t, []Event{
		DeviceDiscovered{Name: "Surron-1234", Address: "AA:BB:CC:DD:EE:FF", RSSI: -60},
		line,
		DeviceExpired{Address: "AA:BB:CC:DD:EE:FF"},
	}, obs.got)
}

func TestDispatch_StopsOnContextCancel(t *testing.T) {
	bus := NewBus(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Dispatch(ctx, bus.C(), NopObserver{})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestLogf(t *testing.T) {
	line := Logf(CategoryError, "send failed: %s", "timeout")

	assert.Equal(t, "send failed: timeout", line.Text)
	assert.Equal(t, CategoryError, line.Category)
	assert.False(t, line.Time.IsZero())
	assert.Equal(t, "[error] send failed: timeout", line.String())
}

func TestObservers_FanOutInOrder(t *testing.T) {
	first, second := &recordingObserver{}, &recordingObserver{}
	fanout := Observers{first, second}

	Deliver(DeviceExpired{Address: "AA"}, fanout)
	Deliver(ScanStateChanged{Scanning: true}, fanout)
	Deliver(NewLogLine(CategoryInfo, "x"), fanout)

	assert.Len(t, first.got, 2, "unhandled events MUST fall through to the embedded no-op")
	assert.Equal(t, first.got, second.got)
}

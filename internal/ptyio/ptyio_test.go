package ptyio

import (
	"bytes"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPort(t *testing.T, opts Options) (Port, *os.File) {
	t.Helper()
	opts.PollInterval = 5 * time.Millisecond

	port, err := Open(opts)
	if err != nil {
		t.Skipf("pseudo-terminals unavailable: %v", err)
	}
	t.Cleanup(func() { _ = port.Close() })

	slave, err := os.OpenFile(port.TTYName(), os.O_RDWR, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = slave.Close() })

	return port, slave
}

func TestPort_SlaveToCallback(t *testing.T) {
	// GOAL: Verify bytes typed on the slave side reach the read callback unchanged
	//
	// TEST SCENARIO: Install callback → write "AT+LOGSTATUS\r" to the slave → callback sees it
	port, slave := openPort(t, Options{})

	var mu sync.Mutex
	var got bytes.Buffer
	port.SetReadCallback(func(data []byte) {
		mu.Lock()
		defer mu.Unlock()
		got.Write(data)
	})

	_, err := slave.Write([]byte("AT+LOGSTATUS\r"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got.String() == "AT+LOGSTATUS\r"
	}, 2*time.Second, 5*time.Millisecond, "callback MUST receive slave bytes verbatim (raw mode)")
	assert.Equal(t, uint64(13), port.Stats().ReadBytesTotal)
}

func TestPort_WriteReachesSlave(t *testing.T) {
	port, slave := openPort(t, Options{})

	n, err := port.Write([]byte("+LOGCOUNT: 7\r\n"))
	require.NoError(t, err)
	require.Equal(t, 14, n)

	received := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		read, _ := slave.Read(buf)
		received <- string(buf[:read])
	}()

	select {
	case got := <-received:
		assert.Equal(t, "+LOGCOUNT: 7\r\n", got)
	case <-time.After(2 * time.Second):
		t.Fatal("slave MUST receive the queued bytes")
	}

	assert.Eventually(t, func() bool {
		return port.Stats().WriteBytesTotal == 14
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPort_ReadWithoutCallback(t *testing.T) {
	port, slave := openPort(t, Options{})

	buf := make([]byte, 16)
	_, err := port.Read(buf)
	require.Error(t, err, "empty ring MUST report EAGAIN")

	_, err = slave.Write([]byte("OK"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		n, err := port.Read(buf)
		return err == nil && string(buf[:n]) == "OK"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPort_WriteOverflowIsCounted(t *testing.T) {
	port, _ := openPort(t, Options{WriteCap: 8})
	rp := port.(*ringPort)
	rp.cancel()
	rp.wg.Wait()

	n, err := port.Write([]byte("0123456789"))

	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, uint64(2), port.Stats().DroppedWriteBytes)
	assert.Equal(t, 8, port.Stats().WriteQueueCap)
}

func TestPort_Close(t *testing.T) {
	port, _ := openPort(t, Options{})

	require.NoError(t, port.Close())
	require.NoError(t, port.Close(), "second close MUST be a no-op")

	_, err := port.Write([]byte("AT"))
	assert.ErrorIs(t, err, os.ErrClosed)
	_, err = port.Read(make([]byte, 4))
	assert.ErrorIs(t, err, os.ErrClosed)
}

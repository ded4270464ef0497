package ptyio

import (
	"errors"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/srg/surronlog/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memPort is an in-memory Port. Bytes passed to feed reach the read callback
// synchronously; everything written is kept for inspection.
type memPort struct {
	mu      sync.Mutex
	cb      ReadCallback
	written strings.Builder
	limit   int
}

func (p *memPort) Read([]byte) (int, error) { return 0, syscall.EAGAIN }
func (p *memPort) Close() error             { return nil }
func (p *memPort) Stats() Stats             { return Stats{} }
func (p *memPort) TTYName() string          { return "/dev/mem" }

func (p *memPort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(data)
	if p.limit > 0 && n > p.limit {
		n = p.limit
	}
	p.written.Write(data[:n])
	return n, nil
}

func (p *memPort) SetReadCallback(cb ReadCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb = cb
}

func (p *memPort) feed(s string) {
	p.mu.Lock()
	cb := p.cb
	p.mu.Unlock()
	if cb != nil {
		cb([]byte(s))
	}
}

func (p *memPort) output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

type sinkRecorder struct {
	mu       sync.Mutex
	commands []string
	err      error
}

func (s *sinkRecorder) send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
	return s.err
}

func TestBridge_SplitsTypedLines(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{name: "single CR terminated", chunks: []string{"AT+LOGSTATUS\r"}, want: []string{"AT+LOGSTATUS"}},
		{name: "CRLF yields one command", chunks: []string{"AT+LOGCOUNT\r\n"}, want: []string{"AT+LOGCOUNT"}},
		{name: "split across chunks", chunks: []string{"AT+LOG", "LATEST=5", "\n"}, want: []string{"AT+LOGLATEST=5"}},
		{name: "several in one chunk", chunks: []string{"AT\rAT+LOGSTATS\r"}, want: []string{"AT", "AT+LOGSTATS"}},
		{name: "blank lines skipped", chunks: []string{"\r\n  \r\n"}, want: nil},
		{name: "unterminated stays pending", chunks: []string{"AT+LOG"}, want: nil},
		{
			name:   "overlong line discarded",
			chunks: []string{strings.Repeat("A", MaxLineLength+1), "\rAT\r"},
			want:   []string{"AT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &memPort{}
			sink := &sinkRecorder{}
			NewBridge(port, sink.send, nil)

			for _, chunk := range tt.chunks {
				port.feed(chunk)
			}

			assert.Equal(t, tt.want, sink.commands)
		})
	}
}

func TestBridge_SinkErrorIsReported(t *testing.T) {
	port := &memPort{}
	sink := &sinkRecorder{err: errors.New("device not connected")}
	NewBridge(port, sink.send, nil)

	port.feed("AT\r")

	assert.Equal(t, "ERROR: device not connected\r\n", port.output())
}

func TestBridge_ForwardsReceivedLines(t *testing.T) {
	port := &memPort{}
	b := NewBridge(port, (&sinkRecorder{}).send, nil)

	b.OnLogLine(events.NewLogLine(events.CategoryReceived, "+LOGCOUNT: 7"))
	b.OnLogLine(events.NewLogLine(events.CategorySent, "AT+LOGCOUNT"))
	b.OnLogLine(events.NewLogLine(events.CategoryInfo, "Notifications enabled"))
	b.OnLogLine(events.NewLogLine(events.CategoryReceived, "OK"))

	assert.Equal(t, "+LOGCOUNT: 7\r\nOK\r\n", port.output(), "only device output MUST reach the terminal without echo")
}

func TestBridge_Echo(t *testing.T) {
	port := &memPort{}
	b := NewBridge(port, (&sinkRecorder{}).send, nil)
	b.SetEcho(true)

	b.OnLogLine(events.NewLogLine(events.CategorySent, "AT"))
	b.OnLogLine(events.NewLogLine(events.CategoryWarning, "Connection lost"))
	b.OnConnectionStateChanged(events.ConnectionStateChanged{Connected: false, State: "disconnecting"})
	b.OnConnectionStateChanged(events.ConnectionStateChanged{Connected: true, State: "ready"})

	assert.Equal(t, "> AT\r\n# [warning] Connection lost\r\n# connection disconnecting\r\n", port.output())
}

func TestBridge_WriteLineTruncated(t *testing.T) {
	port := &memPort{limit: 4}
	b := NewBridge(port, (&sinkRecorder{}).send, nil)

	err := b.WriteLine("+LOGSTATUS: 1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "4 of 15 bytes")
}

func TestBridge_CloseDetaches(t *testing.T) {
	port := &memPort{}
	sink := &sinkRecorder{}
	b := NewBridge(port, sink.send, nil)

	b.Close()
	port.feed("AT\r")

	assert.Empty(t, sink.commands)
}

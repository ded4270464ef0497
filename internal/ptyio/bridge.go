package ptyio

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/surronlog/internal/events"
)

// MaxLineLength bounds a command line typed into the bridge. Longer input is discarded.
const MaxLineLength = 512

// CommandSink receives every complete command line typed on the slave side
type CommandSink func(command string) error

// Bridge turns a Port into a line-oriented AT terminal: complete lines typed on
// the slave side go to the sink, and received session lines are written back
// CRLF-terminated. Bridge implements events.Observer.
type Bridge struct {
	events.NopObserver

	port   Port
	sink   CommandSink
	logger *logrus.Logger

	mu       sync.Mutex
	pending  []byte
	overflow bool
	echo     bool
}

// NewBridge installs itself as the read callback of port
func NewBridge(port Port, sink CommandSink, logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = discardLogger
	}
	b := &Bridge{port: port, sink: sink, logger: logger}
	port.SetReadCallback(b.feed)
	return b
}

// SetEcho controls whether sent commands and session messages other than received
// lines are also written to the terminal
func (b *Bridge) SetEcho(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.echo = on
}

// feed accumulates slave bytes and dispatches each complete line
func (b *Bridge) feed(data []byte) {
	for _, line := range b.split(data) {
		if err := b.sink(line); err != nil {
			b.logger.WithFields(logrus.Fields{
				"command": line,
				"error":   err,
			}).Warn("Bridge command rejected")
			_ = b.WriteLine(fmt.Sprintf("ERROR: %v", err))
		}
	}
}

func (b *Bridge) split(data []byte) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var lines []string
	for len(data) > 0 {
		i := bytes.IndexAny(data, "\r\n")
		if i < 0 {
			b.appendPending(data)
			break
		}

		b.appendPending(data[:i])
		data = data[i+1:]

		if b.overflow {
			b.logger.WithField("limit", MaxLineLength).Warn("Bridge line too long, discarded")
		} else if line := strings.TrimSpace(string(b.pending)); line != "" {
			lines = append(lines, line)
		}
		b.pending = b.pending[:0]
		b.overflow = false
	}
	return lines
}

func (b *Bridge) appendPending(data []byte) {
	if b.overflow {
		return
	}
	if len(b.pending)+len(data) > MaxLineLength {
		b.overflow = true
		b.pending = b.pending[:0]
		return
	}
	b.pending = append(b.pending, data...)
}

// WriteLine queues text plus CRLF for the slave side
func (b *Bridge) WriteLine(text string) error {
	data := []byte(text + "\r\n")
	n, err := b.port.Write(data)
	if err != nil {
		return err
	}
	if n < len(data) {
		return fmt.Errorf("bridge output truncated: %d of %d bytes queued", n, len(data))
	}
	return nil
}

// OnLogLine forwards received device lines, plus everything else when echo is on
func (b *Bridge) OnLogLine(line events.LogLine) {
	b.mu.Lock()
	echo := b.echo
	b.mu.Unlock()

	var text string
	switch {
	case line.Category == events.CategoryReceived:
		text = line.Text
	case !echo:
		return
	case line.Category == events.CategorySent:
		text = "> " + line.Text
	default:
		text = fmt.Sprintf("# %s", line)
	}

	if err := b.WriteLine(text); err != nil {
		b.logger.WithField("error", err).Warn("Failed to write to PTY")
	}
}

// OnConnectionStateChanged reports link loss to the terminal
func (b *Bridge) OnConnectionStateChanged(ev events.ConnectionStateChanged) {
	if ev.Connected {
		return
	}
	_ = b.WriteLine("# connection " + ev.State)
}

// Close detaches the bridge from its port
func (b *Bridge) Close() {
	b.port.SetReadCallback(nil)
}

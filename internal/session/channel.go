package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/surronlog/internal/device"
	"github.com/srg/surronlog/internal/events"
)

// Preset AT commands understood by the fault-log firmware
var Presets = map[string]string{
	"latest": "AT+LOGLATEST=5",
	"status": "AT+LOGSTATUS",
	"stats":  "AT+LOGSTATS",
	"count":  "AT+LOGCOUNT",
	"clear":  "AT+LOGCLEAR",
}

// LatestCommand builds the AT command requesting the n most recent fault records
func LatestCommand(n int) string {
	return fmt.Sprintf("AT+LOGLATEST=%d", n)
}

// FrameCommand appends CRLF unless cmd already ends in CR or LF
func FrameCommand(cmd string) string {
	if strings.HasSuffix(cmd, "\r") || strings.HasSuffix(cmd, "\n") {
		return cmd
	}
	return cmd + "\r\n"
}

// DecodeNotification turns a raw RX payload into display lines. Invalid UTF-8 is
// dropped; CR, LF and CRLF all end a line; blank lines are skipped. A non-empty
// payload with no decodable text yields a single hex line such as "FF FE".
func DecodeNotification(payload []byte) []string {
	text := strings.ToValidUTF8(string(payload), "")

	if text == "" {
		if len(payload) == 0 {
			return nil
		}
		return []string{HexLine(payload)}
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// HexLine formats bytes as upper-case space-separated hex
func HexLine(payload []byte) string {
	parts := make([]string, len(payload))
	for i, b := range payload {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

// Send writes one framed command to the TX characteristic. The sent log line is
// emitted before the write is issued; failures are reported as error log lines.
// A link reported gone by the radio stack starts the disconnect path.
func (m *Connection) Send(ctx context.Context, cmd string) error {
	link, tx, ok := m.writeTarget()
	if !ok {
		err := &device.StateError{State: device.NotConnected, Msg: "device not connected"}
		m.logLine(events.CategoryError, "%s", err.Msg)
		return err
	}
	if tx == nil {
		err := &device.StateError{State: device.NotConnected, Msg: "TX characteristic not available"}
		m.logLine(events.CategoryError, "%s", err.Msg)
		return err
	}

	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.logLine(events.CategorySent, "%s", strings.TrimSpace(cmd))

	data := []byte(FrameCommand(cmd))
	writeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeouts.Write)
	err := link.Write(writeCtx, tx, data)
	cancel()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = &device.TimeoutError{Op: "write", After: m.cfg.Timeouts.Write}
		}
		if m.isShuttingDown() {
			return err
		}

		m.logger.WithFields(logrus.Fields{
			"address": link.Address(),
			"error":   err,
		}).Warn("Command write failed")
		m.logLine(events.CategoryError, "send failed: %v", err)

		if errors.Is(err, device.ErrNotConnected) {
			m.linkLost(link)
		}
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"address": link.Address(),
		"bytes":   len(data),
	}).Debug("Command written")

	sleep(ctx, m.cfg.Timeouts.SendSettle)
	return nil
}

// handleNotification is installed on the RX characteristic
func (m *Connection) handleNotification(payload []byte) {
	if m.isShuttingDown() {
		return
	}
	for _, line := range DecodeNotification(payload) {
		m.emit(events.LogLine{Text: line, Category: events.CategoryReceived, Time: time.Now()})
	}
}

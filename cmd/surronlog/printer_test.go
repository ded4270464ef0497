package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/srg/surronlog/internal/events"
	"github.com/stretchr/testify/assert"
)

func TestPrinter_LogLines(t *testing.T) {
	tests := []struct {
		name string
		opts PrinterOptions
		line events.LogLine
		want string
	}{
		{
			name: "received always shown",
			line: events.NewLogLine(events.CategoryReceived, "+LOGCOUNT: 7"),
			want: "← +LOGCOUNT: 7\n",
		},
		{
			name: "sent always shown",
			line: events.NewLogLine(events.CategorySent, "AT+LOGCOUNT"),
			want: "→ AT+LOGCOUNT\n",
		},
		{
			name: "errors always shown",
			line: events.NewLogLine(events.CategoryError, "device not connected"),
			want: "✗ device not connected\n",
		},
		{
			name: "session line hidden by default",
			line: events.NewLogLine(events.CategorySuccess, "Notifications enabled"),
			want: "",
		},
		{
			name: "session line shown when enabled",
			opts: PrinterOptions{Session: true},
			line: events.NewLogLine(events.CategoryWarning, "Connection lost"),
			want: "! Connection lost\n",
		},
		{
			name: "timestamp prefix",
			opts: PrinterOptions{Timestamp: true},
			line: events.LogLine{
				Category: events.CategoryReceived,
				Text:     "OK",
				Time:     time.Date(2026, 3, 1, 14, 5, 9, 0, time.Local),
			},
			want: "14:05:09 ← OK\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.opts.NoColor = true
			NewPrinter(&buf, tt.opts).OnLogLine(tt.line)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPrinter_DevicesAnnouncedOnce(t *testing.T) {
	// GOAL: Repeated discoveries of a present device print nothing new; expiry re-arms it
	var buf bytes.Buffer
	p := NewPrinter(&buf, PrinterOptions{Devices: true, NoColor: true})

	found := events.DeviceDiscovered{Name: "Surron-1", Address: "AA:BB:CC:DD:EE:01", RSSI: -60}
	p.OnDeviceDiscovered(found)
	p.OnDeviceDiscovered(found)
	p.OnDeviceExpired(events.DeviceExpired{Address: "AA:BB:CC:DD:EE:01"})
	p.OnDeviceExpired(events.DeviceExpired{Address: "00:00:00:00:00:00"})
	p.OnDeviceDiscovered(found)

	assert.Equal(t,
		"+ Surron-1             AA:BB:CC:DD:EE:01  -60 dBm\n"+
			"- AA:BB:CC:DD:EE:01\n"+
			"+ Surron-1             AA:BB:CC:DD:EE:01  -60 dBm\n",
		buf.String())
}

func TestPrinter_StatusAndDevicesOptional(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PrinterOptions{NoColor: true})

	p.OnStatusChanged(events.StatusChanged{Status: "Continuous scanning..."})
	p.OnDeviceDiscovered(events.DeviceDiscovered{Name: "Surron-1", Address: "AA"})

	assert.Empty(t, buf.String())

	p = NewPrinter(&buf, PrinterOptions{Status: true, NoColor: true})
	p.OnStatusChanged(events.StatusChanged{Status: "Continuous scanning..."})
	assert.Equal(t, "* Continuous scanning...\n", buf.String())
}

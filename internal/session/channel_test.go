package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameCommand(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		want string
	}{
		{name: "appends CRLF to bare command", cmd: "AT+LOGSTATUS", want: "AT+LOGSTATUS\r\n"},
		{name: "keeps existing CRLF", cmd: "AT+LOGSTATUS\r\n", want: "AT+LOGSTATUS\r\n"},
		{name: "keeps trailing CR", cmd: "AT\r", want: "AT\r"},
		{name: "keeps trailing LF", cmd: "AT\n", want: "AT\n"},
		{name: "frames empty command", cmd: "", want: "\r\n"},
		{name: "frames trailing space", cmd: "AT ", want: "AT \r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FrameCommand(tt.cmd))
		})
	}
}

func TestDecodeNotification(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    []string
	}{
		{
			name:    "single CRLF terminated line",
			payload: []byte{0x41, 0x54, 0x0D, 0x0A},
			want:    []string{"AT"},
		},
		{
			name:    "undecodable bytes fall back to hex",
			payload: []byte{0xFF, 0xFE},
			want:    []string{"FF FE"},
		},
		{
			name:    "splits on every line ending",
			payload: []byte("+LOGOK: 3\r\n+LOGDATA: 1,2\r+LOGDATA: 2,3\nOK"),
			want:    []string{"+LOGOK: 3", "+LOGDATA: 1,2", "+LOGDATA: 2,3", "OK"},
		},
		{
			name:    "skips blank and whitespace-only lines",
			payload: []byte("\r\n  \r\nOK  \r\n\r\n"),
			want:    []string{"OK"},
		},
		{
			name:    "drops invalid bytes inside text",
			payload: []byte{'O', 0xFF, 'K', '\r', '\n'},
			want:    []string{"OK"},
		},
		{
			name:    "keeps multi-byte UTF-8",
			payload: []byte("温度 OK\n"),
			want:    []string{"温度 OK"},
		},
		{
			name:    "line endings only yield nothing",
			payload: []byte("\r\n"),
			want:    nil,
		},
		{
			name:    "empty payload yields nothing",
			payload: nil,
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeNotification(tt.payload))
		})
	}
}

func TestDecodeNotification_NeverPanics(t *testing.T) {
	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}

	assert.NotPanics(t, func() {
		for i := 0; i <= len(payload); i++ {
			DecodeNotification(payload[:i])
			DecodeNotification(payload[i:])
		}
	})
}

func TestHexLine(t *testing.T) {
	assert.Equal(t, "00 0A FF", HexLine([]byte{0x00, 0x0A, 0xFF}))
	assert.Equal(t, "", HexLine(nil))
}

func TestPresets(t *testing.T) {
	assert.Equal(t, "AT+LOGLATEST=5", Presets["latest"])
	assert.Equal(t, "AT+LOGSTATUS", Presets["status"])
	assert.Equal(t, "AT+LOGLATEST=12", LatestCommand(12))
}

// Package events defines the session events delivered to UI observers and the
// bus that carries them from the background executor to a single consumer.
package events

import (
	"fmt"
	"time"
)

// Category classifies a LogLine for presentation
type Category string

const (
	CategoryInfo     Category = "info"
	CategorySuccess  Category = "success"
	CategoryWarning  Category = "warning"
	CategoryError    Category = "error"
	CategorySent     Category = "sent"
	CategoryReceived Category = "received"
)

// Event is implemented by every session event
type Event interface {
	isEvent()
}

// DeviceDiscovered is emitted for every advertisement whose name matches the device prefix
type DeviceDiscovered struct {
	Name    string
	Address string
	RSSI    int
}

// DeviceExpired is emitted when a prefix-matching device leaves the registry
type DeviceExpired struct {
	Address string
}

// ScanStateChanged marks the start and end of each discovery window
type ScanStateChanged struct {
	Scanning bool
}

// ConnectionStateChanged is emitted on reaching Ready and on leaving it
type ConnectionStateChanged struct {
	Connected bool
	State     string
}

// StatusChanged carries a short human-readable status
type StatusChanged struct {
	Status string
}

// LogLine is one categorized line of the session log
type LogLine struct {
	Text     string
	Category Category
	Time     time.Time
}

func (DeviceDiscovered) isEvent()       {}
func (DeviceExpired) isEvent()          {}
func (ScanStateChanged) isEvent()       {}
func (ConnectionStateChanged) isEvent() {}
func (StatusChanged) isEvent()          {}
func (LogLine) isEvent()                {}

func (e DeviceDiscovered) String() string {
	return fmt.Sprintf("discovered %s (%s) rssi=%d", e.Name, e.Address, e.RSSI)
}

func (e DeviceExpired) String() string {
	return fmt.Sprintf("expired %s", e.Address)
}

func (e LogLine) String() string {
	return fmt.Sprintf("[%s] %s", e.Category, e.Text)
}

// NewLogLine stamps a log line with the current time
func NewLogLine(category Category, text string) LogLine {
	return LogLine{Text: text, Category: category, Time: time.Now()}
}

// Logf formats a log line
func Logf(category Category, format string, args ...any) LogLine {
	return NewLogLine(category, fmt.Sprintf(format, args...))
}

package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/srg/surronlog/internal/events"
)

const timeLayout = "15:04:05"

// PrinterOptions selects which session events reach the terminal
type PrinterOptions struct {
	Devices   bool // discovered/expired devices
	Status    bool // status changes
	Session   bool // info, success and warning log lines
	NoColor   bool
	Timestamp bool
}

// Printer renders session events as colored terminal lines. Sent, received and
// error lines are always printed.
type Printer struct {
	events.NopObserver

	mu   sync.Mutex
	out  io.Writer
	opts PrinterOptions
	seen map[string]bool

	categories map[events.Category]*color.Color
	faint      *color.Color
	added      *color.Color
	removed    *color.Color
}

var categoryMarks = map[events.Category]string{
	events.CategoryInfo:     " ",
	events.CategorySuccess:  "✓",
	events.CategoryWarning:  "!",
	events.CategoryError:    "✗",
	events.CategorySent:     "→",
	events.CategoryReceived: "←",
}

func NewPrinter(out io.Writer, opts PrinterOptions) *Printer {
	p := &Printer{
		out:  out,
		opts: opts,
		seen: make(map[string]bool),
		categories: map[events.Category]*color.Color{
			events.CategoryInfo:     color.New(color.FgCyan),
			events.CategorySuccess:  color.New(color.FgGreen),
			events.CategoryWarning:  color.New(color.FgYellow),
			events.CategoryError:    color.New(color.FgRed, color.Bold),
			events.CategorySent:     color.New(color.FgBlue),
			events.CategoryReceived: color.New(color.FgWhite, color.Bold),
		},
		faint:   color.New(color.Faint),
		added:   color.New(color.FgGreen),
		removed: color.New(color.FgRed),
	}

	if opts.NoColor {
		for _, c := range p.categories {
			c.DisableColor()
		}
		p.faint.DisableColor()
		p.added.DisableColor()
		p.removed.DisableColor()
	}
	return p
}

func (p *Printer) println(c *color.Color, format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = c.Fprintln(p.out, fmt.Sprintf(format, args...))
}

func (p *Printer) OnLogLine(line events.LogLine) {
	switch line.Category {
	case events.CategoryInfo, events.CategorySuccess, events.CategoryWarning:
		if !p.opts.Session {
			return
		}
	}

	c, ok := p.categories[line.Category]
	if !ok {
		c = p.faint
	}
	mark := categoryMarks[line.Category]

	if p.opts.Timestamp && !line.Time.IsZero() {
		p.println(c, "%s %s %s", line.Time.Format(timeLayout), mark, line.Text)
		return
	}
	p.println(c, "%s %s", mark, line.Text)
}

func (p *Printer) OnStatusChanged(ev events.StatusChanged) {
	if p.opts.Status {
		p.println(p.faint, "* %s", ev.Status)
	}
}

// OnDeviceDiscovered prints a device the first time it is seen after being absent
func (p *Printer) OnDeviceDiscovered(ev events.DeviceDiscovered) {
	if !p.opts.Devices {
		return
	}

	p.mu.Lock()
	known := p.seen[ev.Address]
	p.seen[ev.Address] = true
	p.mu.Unlock()

	if !known {
		p.println(p.added, "+ %-20s %s  %d dBm", ev.Name, ev.Address, ev.RSSI)
	}
}

func (p *Printer) OnDeviceExpired(ev events.DeviceExpired) {
	if !p.opts.Devices {
		return
	}

	p.mu.Lock()
	known := p.seen[ev.Address]
	delete(p.seen, ev.Address)
	p.mu.Unlock()

	if known {
		p.println(p.removed, "- %s", ev.Address)
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/surronlog/internal/events"
	"github.com/srg/surronlog/internal/groutine"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows the current session status with elapsed time on a single
// terminal line until Stop is called. It follows StatusChanged events, so it can
// be added to the observer list of a running session.
//
// A ProgressPrinter is single-use: Start at most once, Stop any number of times.
type ProgressPrinter struct {
	events.NopObserver

	out     io.Writer
	prefix  string
	phase   atomic.Value // string
	started atomic.Bool

	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

// NewProgressPrinter creates a printer that starts in phase
func NewProgressPrinter(out io.Writer, prefix, phase string) *ProgressPrinter {
	p := &ProgressPrinter{out: out, prefix: prefix}
	p.phase.Store(phase)
	return p
}

// Start begins redrawing the progress line in the background
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stopChan, p.done
	p.mu.Unlock()

	start := time.Now()
	p.print(p.phase.Load().(string), 0)

	groutine.Go(context.Background(), "progress-printer", func(context.Context) {
		defer close(done)

		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.print(p.phase.Load().(string), int(time.Since(start).Seconds()))
			}
		}
	})
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	if seconds > 0 {
		_, _ = fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		_, _ = fmt.Fprintf(p.out, "\r%s (%s)   ", p.prefix, phase)
	}
}

// OnStatusChanged switches the displayed phase
func (p *ProgressPrinter) OnStatusChanged(ev events.StatusChanged) {
	p.phase.Store(ev.Status)
}

// Stop ends the display and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.mu.Lock()
	stop, done := p.stopChan, p.done
	p.stopChan = nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done

	_, _ = fmt.Fprint(p.out, clearLineSequence)
}

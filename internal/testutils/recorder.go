package testutils

import (
	"sync"

	"github.com/srg/surronlog/internal/events"
)

// EventRecorder drains an event channel in the background and keeps every event
type EventRecorder struct {
	mu     sync.Mutex
	events []events.Event
	done   chan struct{}
}

// NewEventRecorder starts recording from ch until it is closed
func NewEventRecorder(ch <-chan events.Event) *EventRecorder {
	r := &EventRecorder{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		for ev := range ch {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
	}()
	return r
}

// Done is closed once the source channel has been closed and drained
func (r *EventRecorder) Done() <-chan struct{} {
	return r.done
}

// Events returns a copy of everything recorded so far
func (r *EventRecorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// Has reports whether any recorded event satisfies match
func (r *EventRecorder) Has(match func(events.Event) bool) bool {
	return r.Count(match) > 0
}

// Count returns how many recorded events satisfy match
func (r *EventRecorder) Count(match func(events.Event) bool) int {
	n := 0
	for _, ev := range r.Events() {
		if match(ev) {
			n++
		}
	}
	return n
}

// Contains reports whether ev was recorded verbatim
func (r *EventRecorder) Contains(ev events.Event) bool {
	return r.Has(func(got events.Event) bool { return got == ev })
}

// LogLines returns the text of recorded log lines of the given category
func (r *EventRecorder) LogLines(category events.Category) []string {
	var out []string
	for _, ev := range r.Events() {
		if line, ok := ev.(events.LogLine); ok && line.Category == category {
			out = append(out, line.Text)
		}
	}
	return out
}

// Statuses returns every recorded status text in order
func (r *EventRecorder) Statuses() []string {
	var out []string
	for _, ev := range r.Events() {
		if s, ok := ev.(events.StatusChanged); ok {
			out = append(out, s.Status)
		}
	}
	return out
}

// HasLogLine reports whether a log line with exactly this category and text was recorded
func (r *EventRecorder) HasLogLine(category events.Category, text string) bool {
	for _, got := range r.LogLines(category) {
		if got == text {
			return true
		}
	}
	return false
}

// Reset forgets everything recorded so far
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

package device

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProtocolError reports that the peripheral does not expose an expected GATT resource
type ProtocolError struct {
	Resource string   // "service" or "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *ProtocolError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// TransportError wraps a failure reported by the radio stack
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// TimeoutError reports a bounded operation that exceeded its deadline
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("%s timed out after %v", e.Op, e.After)
	}
	return fmt.Sprintf("%s timed out", e.Op)
}

// Is makes every TimeoutError match ErrTimeout
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// SessionState is the kind of invalid-state condition carried by a StateError
type SessionState string

const (
	NotConnected     SessionState = "not_connected"
	AlreadyConnected SessionState = "already_connected"
	Busy             SessionState = "operation_in_progress"
	ShuttingDown     SessionState = "shutting_down"
)

// StateError reports an operation requested in a state that does not allow it
type StateError struct {
	State SessionState
	Msg   string
}

func (e *StateError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare StateError values by State
func (e *StateError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*StateError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for session states
var (
	ErrNotConnected     = &StateError{State: NotConnected}
	ErrAlreadyConnected = &StateError{State: AlreadyConnected}
	ErrBusy             = &StateError{State: Busy}
	ErrShuttingDown     = &StateError{State: ShuttingDown}
)

// Operation errors
var (
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
)

// IsSessionState reports whether err is a StateError with the given state
func IsSessionState(err error, state SessionState) bool {
	var serr *StateError
	if errors.As(err, &serr) {
		return serr.State == state
	}
	return false
}

// ContainsIgnoreCase checks the substring case-insensitively
func ContainsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

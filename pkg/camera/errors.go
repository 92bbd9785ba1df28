package camera

import (
	"errors"
	"fmt"
)

// Kind classifies a camera failure.
type Kind int

const (
	// KindOpen means the device could not be acquired (wrong index, busy,
	// unsupported backend). Callers may retry Open explicitly.
	KindOpen Kind = iota + 1
	// KindNotOpen means an operation that needs an open session was called
	// on a closed one.
	KindNotOpen
	// KindTimeout means no frame arrived within the read budget.
	KindTimeout
	// KindClose means the driver reported an error while releasing the
	// device. The session is closed regardless.
	KindClose
)

func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "device unavailable"
	case KindNotOpen:
		return "not open"
	case KindTimeout:
		return "timed out waiting for frame"
	case KindClose:
		return "close failed"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against *Error values.
var (
	ErrOpen    = &Error{Kind: KindOpen}
	ErrNotOpen = &Error{Kind: KindNotOpen}
	ErrTimeout = &Error{Kind: KindTimeout}
	ErrClose   = &Error{Kind: KindClose}
)

var errDeviceNotOpened = errors.New("driver returned a device that is not opened")

// Error is the single error type surfaced by a Camera. Driver errors are
// wrapped in Err.
type Error struct {
	Op     string // operation: "open", "read", "close"
	Kind   Kind
	Device int
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("camera %d: %s: %s", e.Device, e.Op, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of err, or 0 if err is not a camera error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

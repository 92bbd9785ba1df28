package camera

import (
	"fmt"
	"strings"
)

// Backend selects the platform capture API used to open a device.
// The zero value lets the driver pick its default.
type Backend string

const (
	BackendDefault      Backend = ""
	BackendAny          Backend = "any"
	BackendV4L2         Backend = "v4l2"
	BackendDShow        Backend = "dshow"
	BackendMSMF         Backend = "msmf"
	BackendAVFoundation Backend = "avfoundation"
	BackendGStreamer    Backend = "gstreamer"
	BackendFFmpeg       Backend = "ffmpeg"
)

// Backends returns every named backend.
func Backends() []Backend {
	return []Backend{
		BackendAny,
		BackendV4L2,
		BackendDShow,
		BackendMSMF,
		BackendAVFoundation,
		BackendGStreamer,
		BackendFFmpeg,
	}
}

// ParseBackend parses a backend name. The empty string and "default" map to
// BackendDefault.
func ParseBackend(s string) (Backend, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "default" {
		return BackendDefault, nil
	}
	for _, b := range Backends() {
		if string(b) == s {
			return b, nil
		}
	}
	return BackendDefault, fmt.Errorf("unknown backend %q", s)
}

// Property identifies a device property.
type Property int

const (
	PropFrameWidth Property = iota + 1
	PropFrameHeight
)

func (p Property) String() string {
	switch p {
	case PropFrameWidth:
		return "frame_width"
	case PropFrameHeight:
		return "frame_height"
	default:
		return fmt.Sprintf("property(%d)", int(p))
	}
}

// Driver acquires capture devices.
//
// Open may return a non-nil Device together with an error when acquisition
// failed halfway; the caller closes it.
type Driver interface {
	Open(index int, backend Backend) (Device, error)
}

// DriverFunc adapts a function to the Driver interface.
type DriverFunc func(index int, backend Backend) (Device, error)

// Open calls f(index, backend).
func (f DriverFunc) Open(index int, backend Backend) (Device, error) {
	return f(index, backend)
}

// Device is an acquired capture handle.
//
// Set is advisory: devices may ignore or clamp values, so callers read back
// with Get. Read returns false on a transient failure. Implementations must
// tolerate Read racing Close and report it as a failed read.
type Device interface {
	IsOpened() bool
	Set(prop Property, value float64)
	Get(prop Property) float64
	Read() (Frame, bool)
	Close() error
}

// Package cameratest provides an in-memory camera.Driver for tests.
package cameratest

import (
	"errors"
	"sync"

	"github.com/teslashibe/go-usbcam/pkg/camera"
)

// Default frame size reported by a Device nobody resized.
const (
	DefaultWidth  = 8
	DefaultHeight = 6
)

// ErrNoDevice is returned by Open when the Driver is configured to fail.
var ErrNoDevice = errors.New("cameratest: no such device")

// Driver is a fake camera.Driver. Configure its exported fields before use;
// it records every device it hands out.
type Driver struct {
	mu sync.Mutex

	// OpenErr makes Open fail. The half-open device is still returned so
	// callers can be checked for releasing it.
	OpenErr error
	// DeadOnOpen makes Open return a device that reports IsOpened false.
	DeadOnOpen bool
	// MaxWidth/MaxHeight clamp resolution requests, like a device snapping
	// to its largest mode. Zero means no clamp.
	MaxWidth  int
	MaxHeight int
	// FailReads makes each device fail this many reads before succeeding.
	// A negative value fails forever.
	FailReads int

	devices []*Device
	opens   int
}

// NewDriver returns a Driver whose devices always deliver frames.
func NewDriver() *Driver {
	return &Driver{}
}

// Open implements camera.Driver.
func (d *Driver) Open(index int, backend camera.Backend) (camera.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.opens++
	dev := &Device{
		Index:     index,
		Backend:   backend,
		opened:    !d.DeadOnOpen && d.OpenErr == nil,
		width:     DefaultWidth,
		height:    DefaultHeight,
		maxWidth:  d.MaxWidth,
		maxHeight: d.MaxHeight,
		failReads: d.FailReads,
	}
	d.devices = append(d.devices, dev)
	if d.OpenErr != nil {
		return dev, d.OpenErr
	}
	return dev, nil
}

// Opens returns how many times Open was called.
func (d *Driver) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Devices returns every device handed out so far.
func (d *Driver) Devices() []*Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Device(nil), d.devices...)
}

// Last returns the most recently opened device, or nil.
func (d *Driver) Last() *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.devices) == 0 {
		return nil
	}
	return d.devices[len(d.devices)-1]
}

// Reads returns the total number of Read calls across all devices.
func (d *Driver) Reads() int {
	total := 0
	for _, dev := range d.Devices() {
		total += dev.Reads()
	}
	return total
}

// Device is a fake camera.Device producing BGR frames whose bytes encode the
// frame sequence number.
type Device struct {
	Index   int
	Backend camera.Backend

	mu        sync.Mutex
	opened    bool
	width     int
	height    int
	maxWidth  int
	maxHeight int
	failReads int
	reads     int
	frames    int
	closes    int
	sets      []Set

	closeErr     error
	panicOnClose bool
}

// Set records one Device.Set call.
type Set struct {
	Prop  camera.Property
	Value float64
}

// IsOpened implements camera.Device.
func (d *Device) IsOpened() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

// Set implements camera.Device. Values above the configured maximum are
// clamped.
func (d *Device) Set(prop camera.Property, value float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sets = append(d.sets, Set{Prop: prop, Value: value})
	v := int(value)
	switch prop {
	case camera.PropFrameWidth:
		if d.maxWidth > 0 && v > d.maxWidth {
			v = d.maxWidth
		}
		d.width = v
	case camera.PropFrameHeight:
		if d.maxHeight > 0 && v > d.maxHeight {
			v = d.maxHeight
		}
		d.height = v
	}
}

// Get implements camera.Device.
func (d *Device) Get(prop camera.Property) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch prop {
	case camera.PropFrameWidth:
		return float64(d.width)
	case camera.PropFrameHeight:
		return float64(d.height)
	}
	return 0
}

// Read implements camera.Device. Frame n (counting from 1) is filled with
// byte(n) in the blue channel, byte(n+1) in green and byte(n+2) in red.
func (d *Device) Read() (camera.Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	if !d.opened {
		return camera.Frame{}, false
	}
	if d.failReads < 0 {
		return camera.Frame{}, false
	}
	if d.failReads > 0 {
		d.failReads--
		return camera.Frame{}, false
	}

	d.frames++
	n := byte(d.frames)
	data := make([]byte, d.width*d.height*3)
	for i := 0; i < len(data); i += 3 {
		data[i], data[i+1], data[i+2] = n, n+1, n+2
	}
	return camera.Frame{Width: d.width, Height: d.height, Order: camera.OrderBGR, Data: data}, true
}

// Close implements camera.Device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	d.opened = false
	if d.panicOnClose {
		panic("cameratest: close panicked")
	}
	return d.closeErr
}

// FailCloseWith makes Close return err.
func (d *Device) FailCloseWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeErr = err
}

// PanicOnClose makes Close panic after marking the device closed.
func (d *Device) PanicOnClose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.panicOnClose = true
}

// Unplug makes the device report itself dead without going through Close.
func (d *Device) Unplug() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = false
}

// SetFailReads changes how many upcoming reads fail; negative fails forever.
func (d *Device) SetFailReads(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failReads = n
}

// Reads returns how many times Read was called.
func (d *Device) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// Closes returns how many times Close was called.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// Sets returns the recorded Set calls.
func (d *Device) Sets() []Set {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Set(nil), d.sets...)
}

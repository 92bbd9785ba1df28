// Package opencv implements camera.Driver on top of OpenCV's VideoCapture
// through gocv. It is the only package in the module that needs cgo.
package opencv

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-usbcam/pkg/camera"
)

var apis = map[camera.Backend]gocv.VideoCaptureAPI{
	camera.BackendAny:          gocv.VideoCaptureAny,
	camera.BackendV4L2:         gocv.VideoCaptureV4L2,
	camera.BackendDShow:        gocv.VideoCaptureDshow,
	camera.BackendMSMF:         gocv.VideoCaptureMSMF,
	camera.BackendAVFoundation: gocv.VideoCaptureAVFoundation,
	camera.BackendGStreamer:    gocv.VideoCaptureGstreamer,
	camera.BackendFFmpeg:       gocv.VideoCaptureFFmpeg,
}

var props = map[camera.Property]gocv.VideoCaptureProperties{
	camera.PropFrameWidth:  gocv.VideoCaptureFrameWidth,
	camera.PropFrameHeight: gocv.VideoCaptureFrameHeight,
}

// Driver opens local capture devices by index.
type Driver struct{}

// NewDriver returns the OpenCV driver.
func NewDriver() *Driver {
	return &Driver{}
}

// Open implements camera.Driver. When OpenCV fails to open the device the
// partially constructed capture is still returned so the caller can release
// it.
func (d *Driver) Open(index int, backend camera.Backend) (camera.Device, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if backend == camera.BackendDefault {
		vc, err = gocv.VideoCaptureDevice(index)
	} else {
		api, ok := apis[backend]
		if !ok {
			return nil, fmt.Errorf("unsupported backend %q", backend)
		}
		vc, err = gocv.VideoCaptureDeviceWithAPI(index, api)
	}
	if vc == nil {
		return nil, err
	}
	return &device{vc: vc, mat: gocv.NewMat()}, err
}

// device serializes access to the capture. OpenCV crashes when a capture is
// read after release, so Read and Close share a lock and reads on a closed
// device fail cleanly.
type device struct {
	mu     sync.Mutex
	vc     *gocv.VideoCapture
	mat    gocv.Mat
	closed bool
}

func (d *device) IsOpened() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed && d.vc.IsOpened()
}

func (d *device) Set(prop camera.Property, value float64) {
	p, ok := props[prop]
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.vc.Set(p, value)
	}
}

func (d *device) Get(prop camera.Property) float64 {
	p, ok := props[prop]
	if !ok {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0
	}
	return d.vc.Get(p)
}

func (d *device) Read() (camera.Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return camera.Frame{}, false
	}
	if ok := d.vc.Read(&d.mat); !ok || d.mat.Empty() {
		return camera.Frame{}, false
	}
	frame, err := FrameFromMat(d.mat)
	if err != nil {
		return camera.Frame{}, false
	}
	return frame, true
}

func (d *device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	_ = d.mat.Close()
	return d.vc.Close()
}

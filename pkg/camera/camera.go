// Package camera wraps a USB capture device in a session with a simple
// lifecycle: Open, any number of Read/Snapshot calls or Stream pulls, Close.
//
// Device I/O is delegated to a Driver (see pkg/camera/opencv for the OpenCV
// implementation). The session owns the handle, remembers the requested
// resolution across reopen cycles, and turns transient read failures into a
// bounded fixed-interval poll.
//
// Typical use:
//
//	cam := camera.New(opencv.NewDriver(), 0, camera.WithResolution(640, 480))
//	if err := cam.Open(); err != nil {
//	    return err
//	}
//	defer cam.Close()
//
//	frame, err := cam.Snapshot(true, camera.DefaultTimeout)
//
// # Concurrency
//
// Open, Close and SetResolution are serialized by one mutex. Read, Snapshot
// and Stream do not take that mutex while they wait on the device, so a Close
// racing an in-flight Read makes that Read fail as a transient read failure
// (and eventually KindTimeout) instead of KindNotOpen. Concurrent Reads on one
// session are not serialized against each other; callers that need several
// readers must coordinate them.
package camera

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultTimeout is the read budget used by the commands and the server.
	DefaultTimeout = 2 * time.Second

	// NoTimeout makes Read wait until a frame arrives.
	NoTimeout time.Duration = -1

	// PollInterval is the fixed backoff between read attempts.
	PollInterval = 10 * time.Millisecond
)

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Observer receives lifecycle and read events. Implementations must be safe
// for concurrent use.
type Observer interface {
	ObserveOpen(device int, err error)
	ObserveClose(device int)
	ObserveRead(device int, elapsed time.Duration, attempts int, err error)
}

// Option configures a Camera.
type Option func(*Camera)

// WithBackend sets the capture API hint passed to the driver.
func WithBackend(b Backend) Option {
	return func(c *Camera) { c.backend = b }
}

// WithResolution sets the initial requested resolution. It is ignored unless
// both values are positive.
func WithResolution(width, height int) Option {
	return func(c *Camera) {
		if width > 0 && height > 0 {
			c.requested = &Resolution{Width: width, Height: height}
		}
	}
}

// WithLogger sets the logger. The default is slog.Default() tagged with
// component=camera.
func WithLogger(l *slog.Logger) Option {
	return func(c *Camera) {
		if l != nil {
			c.log = l
		}
	}
}

// WithObserver registers an Observer for metrics.
func WithObserver(o Observer) Option {
	return func(c *Camera) { c.observer = o }
}

// WithPollInterval overrides PollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Camera) {
		if d > 0 {
			c.poll = d
		}
	}
}

// handle boxes a Device so it can live in an atomic.Pointer.
type handle struct {
	dev Device
}

// Camera is a session on one capture device. The zero value is not usable;
// create one with New.
type Camera struct {
	index    int
	backend  Backend
	driver   Driver
	poll     time.Duration
	log      *slog.Logger
	observer Observer

	mu        sync.Mutex  // serializes Open, Close, SetResolution
	requested *Resolution // guarded by mu
	handle    atomic.Pointer[handle]
}

// New returns a closed session for the device at index. It does not touch
// the device.
func New(driver Driver, index int, opts ...Option) *Camera {
	c := &Camera{
		index:  index,
		driver: driver,
		poll:   PollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default().With("component", "camera")
	}
	c.log = c.log.With("device", index)

	// Last resort only; callers are expected to Close.
	runtime.SetFinalizer(c, (*Camera).finalize)
	return c
}

// DeviceIndex returns the device index this session was created for.
func (c *Camera) DeviceIndex() int { return c.index }

// Backend returns the backend hint, BackendDefault if none was given.
func (c *Camera) Backend() Backend { return c.backend }

// Open acquires the device and applies the requested resolution. It is a
// no-op on an open session.
func (c *Camera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h := c.handle.Load(); h != nil {
		if h.dev.IsOpened() {
			return nil
		}
		// Handle went stale under us; drop it and acquire a fresh one.
		c.log.Debug("releasing stale handle before reopen")
		c.handle.Store(nil)
		c.observeClose()
		_ = h.dev.Close()
	}

	dev, err := c.driver.Open(c.index, c.backend)
	if err == nil && (dev == nil || !dev.IsOpened()) {
		err = errDeviceNotOpened
	}
	if err != nil {
		if dev != nil {
			_ = dev.Close()
		}
		openErr := &Error{Op: "open", Kind: KindOpen, Device: c.index, Err: err}
		c.log.Warn("open failed", "backend", c.backend, "error", err)
		c.observeOpen(openErr)
		return openErr
	}

	if c.requested != nil {
		applyResolution(dev, *c.requested)
		c.log.Debug("applied resolution", "width", c.requested.Width, "height", c.requested.Height)
	}

	c.handle.Store(&handle{dev: dev})
	c.log.Debug("opened", "backend", c.backend)
	c.observeOpen(nil)
	return nil
}

// Close releases the device. It is a no-op on a closed session. The session
// is closed on return even when the driver reports an error; release errors
// from a device that already died are discarded.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.handle.Load()
	if h == nil {
		return nil
	}
	c.handle.Store(nil)
	c.observeClose()

	// A dead device still holds native resources
	if !h.dev.IsOpened() {
		_ = h.dev.Close()
		c.log.Debug("closed stale handle")
		return nil
	}
	if err := h.dev.Close(); err != nil {
		c.log.Warn("release failed", "error", err)
		return &Error{Op: "close", Kind: KindClose, Device: c.index, Err: err}
	}
	c.log.Debug("closed")
	return nil
}

// finalize is the last-resort release run by the garbage collector. It never
// panics.
func (c *Camera) finalize() {
	defer func() { _ = recover() }()
	if c.handle.Load() == nil {
		return
	}
	c.log.Debug("closing session that was never closed")
	_ = c.Close()
}

// IsOpen reports whether the session holds a handle that is still live. The
// answer may be stale as soon as it is returned if another goroutine closes
// the session.
func (c *Camera) IsOpen() bool {
	h := c.handle.Load()
	return h != nil && h.dev.IsOpened()
}

// SetResolution records the requested resolution and applies it to the live
// device if open. Devices may ignore or snap the values; read back with
// Resolution.
func (c *Camera) SetResolution(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := Resolution{Width: width, Height: height}
	c.requested = &res
	if h := c.handle.Load(); h != nil && h.dev.IsOpened() {
		applyResolution(h.dev, res)
		c.log.Debug("applied resolution", "width", width, "height", height)
	}
}

// Resolution returns the device's actual resolution when open. When closed
// it returns the last requested resolution, with ok false if none was ever
// requested.
func (c *Camera) Resolution() (res Resolution, ok bool) {
	if h := c.handle.Load(); h != nil && h.dev.IsOpened() {
		return Resolution{
			Width:  int(h.dev.Get(PropFrameWidth)),
			Height: int(h.dev.Get(PropFrameHeight)),
		}, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.requested == nil {
		return Resolution{}, false
	}
	return *c.requested, true
}

// Read blocks until the device delivers a frame, polling every PollInterval
// after a failed attempt. It fails with KindTimeout once timeout has elapsed;
// NoTimeout waits forever. The returned frame is in native (BGR) order.
func (c *Camera) Read(timeout time.Duration) (Frame, error) {
	return c.ReadContext(context.Background(), timeout)
}

// ReadContext is Read with an additional context. Cancellation is only
// noticed between attempts, never inside the driver's blocking read, and is
// reported as KindTimeout wrapping ctx.Err().
func (c *Camera) ReadContext(ctx context.Context, timeout time.Duration) (Frame, error) {
	h := c.handle.Load()
	if h == nil || !h.dev.IsOpened() {
		return Frame{}, &Error{Op: "read", Kind: KindNotOpen, Device: c.index}
	}

	start := time.Now()
	for attempts := 1; ; attempts++ {
		if frame, ok := h.dev.Read(); ok {
			c.observeRead(time.Since(start), attempts, nil)
			return frame, nil
		}

		elapsed := time.Since(start)
		if timeout >= 0 && elapsed >= timeout {
			err := &Error{Op: "read", Kind: KindTimeout, Device: c.index}
			c.log.Warn("read timed out", "timeout", timeout, "attempts", attempts)
			c.observeRead(elapsed, attempts, err)
			return Frame{}, err
		}

		wait := c.poll
		if timeout >= 0 && timeout-elapsed < wait {
			wait = timeout - elapsed
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			err := &Error{Op: "read", Kind: KindTimeout, Device: c.index, Err: ctx.Err()}
			c.observeRead(time.Since(start), attempts, err)
			return Frame{}, err
		case <-t.C:
		}
	}
}

// Snapshot reads one frame. With toDisplayOrder it is converted from BGR to
// RGB; otherwise it is returned in native order.
func (c *Camera) Snapshot(toDisplayOrder bool, timeout time.Duration) (Frame, error) {
	frame, err := c.Read(timeout)
	if err != nil {
		return Frame{}, err
	}
	if toDisplayOrder {
		return frame.ToDisplayOrder(), nil
	}
	return frame, nil
}

func applyResolution(dev Device, res Resolution) {
	dev.Set(PropFrameWidth, float64(res.Width))
	dev.Set(PropFrameHeight, float64(res.Height))
}

func (c *Camera) observeOpen(err error) {
	if c.observer != nil {
		c.observer.ObserveOpen(c.index, err)
	}
}

func (c *Camera) observeClose() {
	if c.observer != nil {
		c.observer.ObserveClose(c.index)
	}
}

func (c *Camera) observeRead(elapsed time.Duration, attempts int, err error) {
	if c.observer != nil {
		c.observer.ObserveRead(c.index, elapsed, attempts, err)
	}
}

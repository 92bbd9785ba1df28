package camera_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-usbcam/pkg/camera"
	"github.com/teslashibe/go-usbcam/pkg/camera/cameratest"
)

func TestOpen_Idempotent(t *testing.T) {
	drv := cameratest.NewDriver()
	cam := camera.New(drv, 1)

	if err := cam.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	first := drv.Last()

	if err := cam.Open(); err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	if drv.Opens() != 1 {
		t.Errorf("Expected 1 driver open, got %d", drv.Opens())
	}
	if drv.Last() != first {
		t.Error("Expected second Open to keep the same handle")
	}
	if !cam.IsOpen() {
		t.Error("Expected session to be open")
	}
	if first.Index != 1 {
		t.Errorf("Expected device index 1, got %d", first.Index)
	}
}

func TestClose_Idempotent(t *testing.T) {
	drv := cameratest.NewDriver()
	cam := camera.New(drv, 0)

	// Closing a never-opened session is fine
	if err := cam.Close(); err != nil {
		t.Fatalf("Close on fresh session failed: %v", err)
	}

	if err := cam.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := cam.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := cam.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if cam.IsOpen() {
		t.Error("Expected session to be closed")
	}
	if got := drv.Last().Closes(); got != 1 {
		t.Errorf("Expected 1 device close, got %d", got)
	}
}

func TestOpen_PassesBackend(t *testing.T) {
	drv := cameratest.NewDriver()
	cam := camera.New(drv, 2, camera.WithBackend(camera.BackendDShow))
	if err := cam.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer cam.Close()

	if got := drv.Last().Backend; got != camera.BackendDShow {
		t.Errorf("Expected backend dshow, got %q", got)
	}
	if cam.Backend() != camera.BackendDShow {
		t.Errorf("Expected Backend() dshow, got %q", cam.Backend())
	}
}

func TestOpen_FailureReleasesDevice(t *testing.T) {
	tests := []struct {
		name string
		drv  *cameratest.Driver
	}{
		{"driver error", &cameratest.Driver{OpenErr: cameratest.ErrNoDevice}},
		{"device not opened", &cameratest.Driver{DeadOnOpen: true}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cam := camera.New(tc.drv, 3)

			err := cam.Open()
			if err == nil {
				t.Fatal("Expected Open to fail")
			}
			if !errors.Is(err, camera.ErrOpen) {
				t.Errorf("Expected ErrOpen, got %v", err)
			}
			if camera.KindOf(err) != camera.KindOpen {
				t.Errorf("Expected KindOpen, got %v", camera.KindOf(err))
			}
			if cam.IsOpen() {
				t.Error("Expected session to stay closed")
			}
			if got := tc.drv.Last().Closes(); got != 1 {
				t.Errorf("Expected half-open device to be closed once, got %d", got)
			}
		})
	}
}

func TestOpen_WrapsDriverError(t *testing.T) {
	drv := &cameratest.Driver{OpenErr: cameratest.ErrNoDevice}
	cam := camera.New(drv, 0)

	err := cam.Open()
	if !errors.Is(err, cameratest.ErrNoDevice) {
		t.Errorf("Expected driver error to be wrapped, got %v", err)
	}

	var camErr *camera.Error
	if !errors.As(err, &camErr) {
		t.Fatalf("Expected *camera.Error, got %T", err)
	}
	if camErr.Op != "open" {
		t.Errorf("Expected op open, got %q", camErr.Op)
	}
}

func TestOpen_RetryAfterFailure(t *testing.T) {
	drv := &cameratest.Driver{OpenErr: cameratest.ErrNoDevice}
	cam := camera.New(drv, 0)

	if err := cam.Open(); err == nil {
		t.Fatal("Expected first Open to fail")
	}

	drv.OpenErr = nil
	if err := cam.Open(); err != nil {
		t.Fatalf("Expected explicit retry to succeed, got %v", err)
	}
	defer cam.Close()

	if drv.Opens() != 2 {
		t.Errorf("Expected 2 driver opens, got %d", drv.Opens())
	}
}

func TestOpen_ReplacesStaleHandle(t *testing.T) {
	drv := cameratest.NewDriver()
	cam := camera.New(drv, 0)
	if err := cam.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	stale := drv.Last()
	stale.Unplug()

	if cam.IsOpen() {
		t.Error("Expected IsOpen false after the device died")
	}
	if err := cam.Open(); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer cam.Close()

	if drv.Opens() != 2 {
		t.Errorf("Expected a fresh handle, got %d opens", drv.Opens())
	}
	if stale.Closes() != 1 {
		t.Errorf("Expected stale handle to be released, got %d closes", stale.Closes())
	}
}

func TestClose_ReleasesStaleHandle(t *testing.T) {
	drv := cameratest.NewDriver()
	cam := camera.New(drv, 0)
	if err := cam.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	dev := drv.Last()
	dev.Unplug()
	dev.FailCloseWith(errors.New("already gone"))

	if err := cam.Close(); err != nil {
		t.Errorf("Expected release error of a dead device to be discarded, got %v", err)
	}
	if dev.Closes() != 1 {
		t.Errorf("Expected dead device to be released once, got %d closes", dev.Closes())
	}
	if err := cam.Close(); err != nil || dev.Closes() != 1 {
		t.Errorf("Expected second Close to be a no-op, got %v with %d closes", err, dev.Closes())
	}
}

func TestClose_ReportsDriverError(t *testing.T) {
	drv := cameratest.NewDriver()
	cam := camera.New(drv, 0)
	if err := cam.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	boom := errors.New("boom")
	drv.Last().FailCloseWith(boom)

	err := cam.Close()
	if !errors.Is(err, camera.ErrClose) || !errors.Is(err, boom) {
		t.Errorf("Expected close error wrapping boom, got %v", err)
	}
	if cam.IsOpen() {
		t.Error("Expected session closed even though release failed")
	}
	if err := cam.Close(); err != nil {
		t.Errorf("Expected second Close to be a no-op, got %v", err)
	}
}

func TestResolution_PersistsAcrossReopen(t *testing.T) {
	drv := cameratest.NewDriver()
	cam := camera.New(drv, 0)

	cam.SetResolution(640, 480)
	if err := cam.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := cam.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := cam.Open(); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer cam.Close()

	devs := drv.Devices()
	if len(devs) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(devs))
	}
	for i, dev := range devs {
		sets := dev.Sets()
		if len(sets) != 2 {
			t.Fatalf("device %d: expected 2 Set calls, got %d", i, len(sets))
		}
		if sets[0].Prop != camera.PropFrameWidth || sets[0].Value != 640 {
			t.Errorf("device %d: expected width 640, got %v=%v", i, sets[0].Prop, sets[0].Value)
		}
		if sets[1].Prop != camera.PropFrameHeight || sets[1].Value != 480 {
			t.Errorf("device %d: expected height 480, got %v=%v", i, sets[1].Prop, sets[1].Value)
		}
	}
}

func TestResolution_FromConstructor(t *testing.T) {
	drv := cameratest.NewDriver()
	cam := camera.New(drv, 0, camera.WithResolution(320, 240))

	res, ok := cam.Resolution()
	if !ok || res != (camera.Resolution{Width: 320, Height: 240}) {
		t.Errorf("Expected requested 320x240 while closed, got %v ok=%v", res, ok)
	}

	if err := cam.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer cam.Close()
	if res, _ := cam.Resolution(); res.Width != 320 || res.Height != 240 {
		t.Errorf("Expected device at 320x240, got %v", res)
	}
}

func TestResolution_PartialConstructorIgnored(t *testing.T) {
	cam := camera.New(cameratest.NewDriver(), 0, camera.WithResolution(640, 0))
	if _, ok := cam.Resolution(); ok {
		t.Error("Expected no requested resolution when height is zero")
	}
}

func TestResolution_UnsetWhenClosed(t *testing.T) {
	cam := camera.New(cameratest.NewDriver(), 0)
	if res, ok := cam.Resolution(); ok {
		t.Errorf("Expected unset resolution, got %v", res)
	}
}

func TestResolution_ReportsActualWhenOpen(t *testing.T) {
	drv := &cameratest.Driver{MaxWidth: 1280, MaxHeight: 720}
	cam := camera.New(drv, 0)
	if err := cam.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer cam.Close()

	// Applied immediately to the live handle, then clamped by the device
	cam.SetResolution(1920, 1080)
	res, ok := cam.Resolution()
	if !ok {
		t.Fatal("Expected a resolution while open")
	}
	if res.Width != 1280 || res.Height != 720 {
		t.Errorf("Expected actual 1280x720, got %dx%d", res.Width, res.Height)
	}

	// Requested value is still what was asked for
	if err := cam.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	res, _ = cam.Resolution()
	if res.Width != 1920 || res.Height != 1080 {
		t.Errorf("Expected requested 1920x1080 after close, got %dx%d", res.Width, res.Height)
	}
}

func TestRead_NotOpen(t *testing.T) {
	drv := cameratest.NewDriver()
	cam := camera.New(drv, 0)

	// Never opened
	if _, err := cam.Read(camera.DefaultTimeout); !errors.Is(err, camera.ErrNotOpen) {
		t.Errorf("Expected ErrNotOpen from fresh session, got %v", err)
	}
	if _, err := cam.Snapshot(true, camera.DefaultTimeout); !errors.Is(err, camera.ErrNotOpen) {
		t.Errorf("Expected ErrNotOpen from Snapshot, got %v", err)
	}

	// Previously closed
	if err := cam.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := cam.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	start := time.Now()
	if _, err := cam.Read(camera.NoTimeout); !errors.Is(err, camera.ErrNotOpen) {
		t.Errorf("Expected ErrNotOpen from closed session, got %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Expected NotOpen to fail fast")
	}

	if drv.Reads() != 0 {
		t.Errorf("Expected no device reads, got %d", drv.Reads())
	}
}

func TestRead_ReturnsFirstFrame(t *testing.T) {
	drv := cameratest.NewDriver()
	cam := camera.New(drv, 0)
	if err := cam.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer cam.Close()

	frame, err := cam.Read(camera.DefaultTimeout)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if frame.Order != camera.OrderBGR {
		t.Errorf("Expected native BGR, got %v", frame.Order)
	}
	if err := frame.Validate(); err != nil {
		t.Errorf("Expected valid frame: %v", err)
	}
	if drv.Reads() != 1 {
		t.Errorf("Expected 1 device read, got %d", drv.Reads())
	}
}

func TestRead_RetriesTransientFailures(t *testing.T) {
	drv := &cameratest.Driver{FailReads: 3}
	cam := camera.New(drv, 0)
	if err := cam.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer cam.Close()

	start := time.Now()
	if _, err := cam.Read(camera.DefaultTimeout); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if drv.Reads() != 4 {
		t.Errorf("Expected 4 attempts, got %d", drv.Reads())
	}
	// Three fixed 10ms backoffs
	if elapsed := time.Since(start); elapsed < 3*camera.PollInterval {
		t.Errorf("Expected at least %v of backoff, got %v", 3*camera.PollInterval, elapsed)
	}
}

func TestRead_TimeoutBound(t *testing.T) {
	drv := &cameratest.Driver{FailReads: -1}
	cam := camera.New(drv, 0)
	if err := cam.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer cam.Close()

	timeout := 200 * time.Millisecond
	start := time.Now()
	_, err := cam.Read(timeout)
	elapsed := time.Since(start)

	if !errors.Is(err, camera.ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if elapsed < timeout {
		t.Errorf("Expected to wait at least %v, returned after %v", timeout, elapsed)
	}
	// One poll interval plus scheduler slack
	if limit := timeout + camera.PollInterval + 40*time.Millisecond; elapsed > limit {
		t.Errorf("Expected to give up by %v, returned after %v", limit, elapsed)
	}
	if drv.Reads() < 2 {
		t.Errorf("Expected repeated attempts, got %d", drv.Reads())
	}
}

func TestRead_ZeroTimeoutSingleAttempt(t *testing.T) {
	drv := &cameratest.Driver{FailReads: -1}
	cam := camera.New(drv, 0)
	if err := cam.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer cam.Close()

	if _, err := cam.Read(0); !errors.Is(err, camera.ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
	if drv.Reads() != 1 {
		t.Errorf("Expected exactly 1 attempt, got %d", drv.Reads())
	}
}

func TestRead_NoTimeoutWaits(t *testing.T) {
	drv := &cameratest.Driver{FailReads: 20}
	cam := camera.New(drv, 0, camera.WithPollInterval(time.Millisecond))
	if err := cam.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer cam.Close()

	if _, err := cam.Read(camera.NoTimeout); err != nil {
		t.Fatalf("Expected NoTimeout to wait for the frame, got %v", err)
	}
	if drv.Reads() != 21 {
		t.Errorf("Expected 21 attempts, got %d", drv.Reads())
	}
}

func TestReadContext_Cancel(t *testing.T) {
	drv := &cameratest.Driver{FailReads: -1}
	cam := camera.New(drv, 0)
	if err := cam.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer cam.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := cam.ReadContext(ctx, camera.NoTimeout)
	if !errors.Is(err, camera.ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected wrapped context error, got %v", err)
	}
}

func TestSnapshot_DisplayOrder(t *testing.T) {
	drv := cameratest.NewDriver()
	cam := camera.New(drv, 0)
	if err := cam.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer cam.Close()

	native, err := cam.Snapshot(false, camera.DefaultTimeout)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if native.Order != camera.OrderBGR || native.Data[0] != 1 || native.Data[2] != 3 {
		t.Errorf("Expected untouched BGR frame, got %v %v", native.Order, native.Data[:3])
	}

	rgb, err := cam.Snapshot(true, camera.DefaultTimeout)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	// Second frame: B=2 G=3 R=4
	if rgb.Order != camera.OrderRGB {
		t.Errorf("Expected RGB, got %v", rgb.Order)
	}
	if rgb.Data[0] != 4 || rgb.Data[1] != 3 || rgb.Data[2] != 2 {
		t.Errorf("Expected swapped channels [4 3 2], got %v", rgb.Data[:3])
	}
}

// A Close racing an in-flight Read is allowed to surface as a failed read
// rather than ErrNotOpen. It must not panic or hang past the timeout.
func TestRead_CloseRace(t *testing.T) {
	drv := &cameratest.Driver{FailReads: -1}
	cam := camera.New(drv, 0)
	if err := cam.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := cam.Read(100 * time.Millisecond)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := cam.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, camera.ErrTimeout) && !errors.Is(err, camera.ErrNotOpen) {
			t.Errorf("Expected timeout or not-open, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not return after Close")
	}
}

func TestConcurrentOpenClose(t *testing.T) {
	drv := cameratest.NewDriver()
	cam := camera.New(drv, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); _ = cam.Open() }()
		go func() { defer wg.Done(); _ = cam.Close() }()
		go func(i int) { defer wg.Done(); cam.SetResolution(320+i, 240+i) }(i)
	}
	wg.Wait()

	_ = cam.Close()
	if cam.IsOpen() {
		t.Error("Expected closed session")
	}
	for _, dev := range drv.Devices() {
		if dev.IsOpened() {
			t.Error("Expected every acquired device to be released")
		}
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	opens  []error
	closes int
	reads  []error
}

func (r *recordingObserver) ObserveOpen(_ int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens = append(r.opens, err)
}

func (r *recordingObserver) ObserveClose(int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
}

func (r *recordingObserver) ObserveRead(_ int, _ time.Duration, _ int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads = append(r.reads, err)
}

func TestObserver(t *testing.T) {
	obs := &recordingObserver{}
	drv := &cameratest.Driver{OpenErr: cameratest.ErrNoDevice}
	cam := camera.New(drv, 0, camera.WithObserver(obs))

	_ = cam.Open()
	drv.OpenErr = nil
	if err := cam.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := cam.Read(camera.DefaultTimeout); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	drv.Last().SetFailReads(-1)
	_, _ = cam.Read(0)
	_ = cam.Close()

	if len(obs.opens) != 2 || obs.opens[0] == nil || obs.opens[1] != nil {
		t.Errorf("Expected [error, nil] opens, got %v", obs.opens)
	}
	if obs.closes != 1 {
		t.Errorf("Expected 1 close, got %d", obs.closes)
	}
	if len(obs.reads) != 2 || obs.reads[0] != nil || !errors.Is(obs.reads[1], camera.ErrTimeout) {
		t.Errorf("Expected [nil, timeout] reads, got %v", obs.reads)
	}
}

func TestObserver_StaleReopenCountsClose(t *testing.T) {
	obs := &recordingObserver{}
	drv := cameratest.NewDriver()
	cam := camera.New(drv, 0, camera.WithObserver(obs))

	if err := cam.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	drv.Last().Unplug()
	if err := cam.Open(); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	_ = cam.Close()

	// One close for the dropped stale handle, one for the explicit Close
	if obs.closes != 2 {
		t.Errorf("Expected 2 closes, got %d", obs.closes)
	}
	if len(obs.opens) != 2 {
		t.Errorf("Expected 2 opens, got %d", len(obs.opens))
	}
}

func TestFinalize_NeverPanics(t *testing.T) {
	t.Run("closed", func(t *testing.T) {
		cam := camera.New(cameratest.NewDriver(), 0)
		cam.Finalize()
	})

	t.Run("open", func(t *testing.T) {
		drv := cameratest.NewDriver()
		cam := camera.New(drv, 0)
		if err := cam.Open(); err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		cam.Finalize()
		if drv.Last().IsOpened() {
			t.Error("Expected finalizer to release the device")
		}
	})

	t.Run("after failed open", func(t *testing.T) {
		cam := camera.New(&cameratest.Driver{OpenErr: cameratest.ErrNoDevice}, 0)
		_ = cam.Open()
		cam.Finalize()
	})

	t.Run("close errors", func(t *testing.T) {
		drv := cameratest.NewDriver()
		cam := camera.New(drv, 0)
		if err := cam.Open(); err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		drv.Last().FailCloseWith(errors.New("boom"))
		cam.Finalize()
	})

	t.Run("close panics", func(t *testing.T) {
		drv := cameratest.NewDriver()
		cam := camera.New(drv, 0)
		if err := cam.Open(); err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		drv.Last().PanicOnClose()
		cam.Finalize()
		if cam.IsOpen() {
			t.Error("Expected session to be closed after panicking release")
		}
	})
}

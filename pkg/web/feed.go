package web

import (
	"context"
	"errors"
	"time"

	"github.com/teslashibe/go-usbcam/pkg/camera"
)

// feedIdle is how long the feed waits before checking again for an open
// session with viewers.
const feedIdle = 250 * time.Millisecond

// runFeed streams JPEG frames to the camera hub while the session is open
// and somebody is watching. The device is not read otherwise.
func (s *Server) runFeed(ctx context.Context) {
	for {
		if !sleepCtx(ctx, feedIdle) {
			return
		}
		if s.encode == nil || !s.cam.IsOpen() || s.cameraHub.ClientCount() == 0 {
			continue
		}
		if err := s.streamOnce(ctx); err != nil {
			s.log.Warn("camera feed interrupted", "error", err)
		}
	}
}

// streamOnce runs one Stream until viewers leave, ctx ends or a read fails.
func (s *Server) streamOnce(ctx context.Context) error {
	s.reading.Lock()
	defer s.reading.Unlock()

	cfg := s.manager.GetConfig()
	stream := s.cam.Stream(cfg.StreamInterval(), cfg.ReadTimeout())
	s.streamOn.Store(true)
	defer func() {
		s.streamOn.Store(false)
		s.latest.Store(nil)
	}()

	stop := context.AfterFunc(ctx, stream.Stop)
	defer stop()

	for frame, err := range stream.All() {
		if err != nil {
			return err
		}
		s.latest.Store(&frame)
		data, err := s.encode(frame)
		if err != nil {
			return err
		}
		s.cameraHub.BroadcastFrame(data, s.streamed.Add(1))

		if s.cameraHub.ClientCount() == 0 {
			s.log.Debug("no viewers left, pausing feed", "frames", stream.Count())
			return nil
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// errorStatus maps a camera error to an HTTP status.
func errorStatus(err error) int {
	if errors.Is(err, errFeedStarting) {
		return 503
	}
	switch camera.KindOf(err) {
	case camera.KindNotOpen:
		return 409
	case camera.KindTimeout:
		return 504
	case camera.KindOpen:
		return 503
	default:
		return 500
	}
}

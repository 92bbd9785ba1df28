package camera

import (
	"errors"
	"iter"
	"sync"
	"time"
)

// ErrStreamStopped is returned by Next after Stop.
var ErrStreamStopped = errors.New("camera: stream stopped")

// Stream is a lazy, endless sequence of native-order frames pulled from a
// Camera. Nothing touches the device until the first Next. A Stream cannot be
// rewound: every pull, through Next or All, continues from where the last one
// left off. Create a new Stream to start over.
//
// The first error is sticky: once a pull fails, every later Next returns the
// same error without touching the device. A Stream is not safe for use by
// several goroutines at once, except for Stop.
type Stream struct {
	cam      *Camera
	interval time.Duration
	timeout  time.Duration

	yielded int
	err     error

	stopOnce sync.Once
	stopped  chan struct{}
}

// Stream returns a Stream that reads with timeout per frame and, after each
// delivered frame, waits interval before reading the next one.
func (c *Camera) Stream(interval, timeout time.Duration) *Stream {
	return &Stream{
		cam:      c,
		interval: interval,
		timeout:  timeout,
		stopped:  make(chan struct{}),
	}
}

// Next pulls the next frame.
func (s *Stream) Next() (Frame, error) {
	if s.err != nil {
		return Frame{}, s.err
	}
	if s.isStopped() {
		s.err = ErrStreamStopped
		return Frame{}, s.err
	}

	if s.yielded > 0 && s.interval > 0 {
		t := time.NewTimer(s.interval)
		select {
		case <-t.C:
		case <-s.stopped:
			t.Stop()
			s.err = ErrStreamStopped
			return Frame{}, s.err
		}
	}

	frame, err := s.cam.Snapshot(false, s.timeout)
	if err != nil {
		s.err = err
		return Frame{}, err
	}
	s.yielded++
	return frame, nil
}

// All adapts the stream for range-over-func. It yields frames until the
// consumer breaks, Stop is called, or a read fails; a failure is yielded once
// as (Frame{}, err) and ends the sequence. Ranging again resumes the same
// stream rather than replaying it.
func (s *Stream) All() iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for {
			frame, err := s.Next()
			if errors.Is(err, ErrStreamStopped) {
				return
			}
			if !yield(frame, err) || err != nil {
				return
			}
		}
	}
}

// Stop ends the stream. A Next blocked in the inter-frame wait returns
// ErrStreamStopped immediately; one blocked on the device returns when the
// read completes. Stop is safe to call from any goroutine and more than once.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

// Count returns how many frames the stream has delivered.
func (s *Stream) Count() int { return s.yielded }

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error { return s.err }

func (s *Stream) isStopped() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

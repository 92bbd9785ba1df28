// Package metrics exports camera session activity to Prometheus.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/teslashibe/go-usbcam/pkg/camera"
)

const namespace = "usbcam"

// Recorder implements camera.Observer. Every series is labeled by device
// index.
type Recorder struct {
	opens        *prometheus.CounterVec
	openFailures *prometheus.CounterVec
	closes       *prometheus.CounterVec
	frames       *prometheus.CounterVec
	timeouts     *prometheus.CounterVec
	readAttempts *prometheus.HistogramVec
	readLatency  *prometheus.HistogramVec
	open         *prometheus.GaugeVec
}

var _ camera.Observer = (*Recorder)(nil)

// NewRecorder registers the session metrics with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		opens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "opens_total",
			Help:      "Successful device opens",
		}, []string{"device"}),

		openFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "open_failures_total",
			Help:      "Device opens that failed",
		}, []string{"device"}),

		closes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "closes_total",
			Help:      "Device releases",
		}, []string{"device"}),

		open: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "open",
			Help:      "1 while the device is held open",
		}, []string{"device"}),

		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "read",
			Name:      "frames_total",
			Help:      "Frames delivered",
		}, []string{"device"}),

		timeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "read",
			Name:      "timeouts_total",
			Help:      "Reads that ran out of time without a frame",
		}, []string{"device"}),

		readAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "read",
			Name:      "attempts",
			Help:      "Device polls needed per successful read",
			Buckets:   []float64{1, 2, 3, 5, 10, 25, 50, 100, 200},
		}, []string{"device"}),

		readLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "read",
			Name:      "duration_seconds",
			Help:      "Time from read call to frame",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"device"}),
	}
}

// ObserveOpen implements camera.Observer.
func (r *Recorder) ObserveOpen(device int, err error) {
	d := label(device)
	if err != nil {
		r.openFailures.WithLabelValues(d).Inc()
		return
	}
	r.opens.WithLabelValues(d).Inc()
	r.open.WithLabelValues(d).Set(1)
}

// ObserveClose implements camera.Observer.
func (r *Recorder) ObserveClose(device int) {
	d := label(device)
	r.closes.WithLabelValues(d).Inc()
	r.open.WithLabelValues(d).Set(0)
}

// ObserveRead implements camera.Observer. Reads on a closed session are not
// counted.
func (r *Recorder) ObserveRead(device int, elapsed time.Duration, attempts int, err error) {
	d := label(device)
	switch {
	case err == nil:
		r.frames.WithLabelValues(d).Inc()
		r.readAttempts.WithLabelValues(d).Observe(float64(attempts))
		r.readLatency.WithLabelValues(d).Observe(elapsed.Seconds())
	case errors.Is(err, camera.ErrTimeout):
		r.timeouts.WithLabelValues(d).Inc()
	}
}

func label(device int) string {
	return strconv.Itoa(device)
}

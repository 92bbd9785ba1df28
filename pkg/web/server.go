// Package web serves a live dashboard for one camera session: a JSON API for
// the session and its configuration, a JPEG snapshot endpoint, websocket
// feeds for frames and status, and Prometheus metrics.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-usbcam/internal/log"
	"github.com/teslashibe/go-usbcam/pkg/camera"
	"github.com/teslashibe/go-usbcam/pkg/hub"
)

// Encoder turns a frame into a JPEG. opencv.EncodeJPEG is the production
// encoder.
type Encoder func(camera.Frame) ([]byte, error)

// Options configures a Server.
type Options struct {
	Port int

	// Encoder is required for /api/snapshot and the camera feed.
	Encoder Encoder

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// StatusInterval is how often the status feed is pushed. Default 1s.
	StatusInterval time.Duration
}

// Server is the web dashboard server
type Server struct {
	app  *fiber.App
	port int
	log  *slog.Logger

	sessionID string
	started   time.Time

	cam     *camera.Camera
	manager *camera.Manager
	encode  Encoder

	statusInterval time.Duration

	// Hubs for websocket broadcast
	statusHub *hub.Hub
	cameraHub *hub.Hub

	// reading is held by whoever reads the device: the feed for as long as
	// it streams, or a snapshot request for one read.
	reading  sync.Mutex
	latest   atomic.Pointer[camera.Frame]
	streamed atomic.Uint64
	streamOn atomic.Bool
}

// NewServer creates a dashboard for cam. The manager's current config is
// treated as the source of truth for read timeout and stream interval.
func NewServer(cam *camera.Camera, manager *camera.Manager, opts Options) *Server {
	s := &Server{
		port:           opts.Port,
		log:            log.Component("web"),
		sessionID:      uuid.New().String(),
		started:        time.Now(),
		cam:            cam,
		manager:        manager,
		encode:         opts.Encoder,
		statusInterval: opts.StatusInterval,
		statusHub:      hub.New("status", hub.WithReplay()),
		cameraHub:      hub.New("camera", hub.WithReplay()),
	}
	if s.statusInterval <= 0 {
		s.statusInterval = time.Second
	}

	app := fiber.New(fiber.Config{
		AppName:               "usbcam",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/config", s.handleGetConfig)
	api.Put("/config", s.handleUpdateConfig)
	api.Get("/presets", s.handlePresets)
	api.Get("/capabilities", s.handleCapabilities)
	api.Post("/open", s.handleOpen)
	api.Post("/close", s.handleClose)
	api.Get("/snapshot", s.handleSnapshot)

	if opts.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/camera", websocket.New(s.handleCameraWS))
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// SessionID identifies this server run.
func (s *Server) SessionID() string {
	return s.sessionID
}

// Run starts the hubs, the camera feed and the HTTP listener, and blocks
// until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.statusHub.Run(ctx)
	go s.cameraHub.Run(ctx)
	go s.runFeed(ctx)
	go s.runStatus(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("dashboard listening", "url", fmt.Sprintf("http://localhost:%d", s.port), "session", s.sessionID)
		errCh <- s.app.Listen(fmt.Sprintf(":%d", s.port))
	}()

	select {
	case <-ctx.Done():
		s.log.Info("shutting down dashboard")
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// runStatus pushes the status document to the status feed.
func (s *Server) runStatus(ctx context.Context) {
	ticker := time.NewTicker(s.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.statusHub.ClientCount() == 0 {
				continue
			}
			if err := s.statusHub.BroadcastJSON(s.status()); err != nil {
				s.log.Warn("status encode failed", "error", err)
			}
		}
	}
}

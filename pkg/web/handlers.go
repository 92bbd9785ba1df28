package web

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-usbcam/pkg/camera"
	"github.com/teslashibe/go-usbcam/pkg/hub"
)

var errFeedStarting = errors.New("camera feed is starting, retry shortly")

// Status is the document served by /api/status and the status feed.
type Status struct {
	SessionID     string             `json:"session_id"`
	Device        int                `json:"device"`
	Backend       camera.Backend     `json:"backend"`
	Open          bool               `json:"open"`
	Resolution    *camera.Resolution `json:"resolution,omitempty"`
	Streaming     bool               `json:"streaming"`
	FramesSent    uint64             `json:"frames_sent"`
	Viewers       int                `json:"viewers"`
	UptimeSeconds float64            `json:"uptime_seconds"`
}

func (s *Server) status() Status {
	st := Status{
		SessionID:     s.sessionID,
		Device:        s.cam.DeviceIndex(),
		Backend:       s.cam.Backend(),
		Open:          s.cam.IsOpen(),
		Streaming:     s.streamOn.Load(),
		FramesSent:    s.streamed.Load(),
		Viewers:       s.cameraHub.ClientCount(),
		UptimeSeconds: time.Since(s.started).Seconds(),
	}
	if res, ok := s.cam.Resolution(); ok {
		st.Resolution = &res
	}
	return st
}

// handleStatus returns the session state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

// handleGetConfig returns current configuration
func (s *Server) handleGetConfig(c *fiber.Ctx) error {
	return c.JSON(s.manager.GetConfigJSON())
}

// handleUpdateConfig applies a partial update such as
// {"preset":"720p"} or {"width":800,"height":600}
func (s *Server) handleUpdateConfig(c *fiber.Ctx) error {
	var params map[string]interface{}
	if err := c.BodyParser(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid JSON body",
		})
	}

	if err := s.manager.UpdateConfig(params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	s.log.Info("config updated", "params", params)
	return c.JSON(s.manager.GetConfigJSON())
}

// handlePresets returns the available presets
func (s *Server) handlePresets(c *fiber.Ctx) error {
	return c.JSON(camera.Presets())
}

// handleCapabilities returns tunable ranges
func (s *Server) handleCapabilities(c *fiber.Ctx) error {
	return c.JSON(camera.Capabilities())
}

func (s *Server) handleOpen(c *fiber.Ctx) error {
	if err := s.cam.Open(); err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(s.status())
}

func (s *Server) handleClose(c *fiber.Ctx) error {
	if err := s.cam.Close(); err != nil {
		// Closed regardless; report the driver error
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(s.status())
}

// handleSnapshot returns one JPEG frame. timeout_ms overrides the configured
// read budget.
func (s *Server) handleSnapshot(c *fiber.Ctx) error {
	if s.encode == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
			"error": "no encoder configured",
		})
	}

	timeout := s.manager.GetConfig().ReadTimeout()
	if v := c.Query("timeout_ms"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "timeout_ms must be an integer",
			})
		}
		timeout = camera.Config{ReadTimeoutMs: ms}.ReadTimeout()
	}

	frame, err := s.snapshot(timeout)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	data, err := s.encode(frame)
	if err != nil {
		s.log.Error("snapshot encode failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(data)
}

// snapshot borrows the newest streamed frame while the feed owns the
// device. Otherwise it waits its turn and reads one frame itself.
func (s *Server) snapshot(timeout time.Duration) (camera.Frame, error) {
	if s.streamOn.Load() {
		if f := s.latest.Load(); f != nil {
			return f.Clone(), nil
		}
		return camera.Frame{}, errFeedStarting
	}

	s.reading.Lock()
	defer s.reading.Unlock()
	return s.cam.Snapshot(false, timeout)
}

// handleCameraWS streams JPEG frames as binary messages
func (s *Server) handleCameraWS(c *websocket.Conn) {
	s.serveWS(s.cameraHub, c)
}

// handleStatusWS sends the current status, then periodic updates
func (s *Server) handleStatusWS(c *websocket.Conn) {
	// Current status first, so the client does not wait a tick
	if err := c.WriteJSON(s.status()); err != nil {
		return
	}
	s.serveWS(s.statusHub, c)
}

func (s *Server) serveWS(h *hub.Hub, c *websocket.Conn) {
	client := hub.NewClient(h, c)
	if client == nil {
		return
	}
	client.Run()
}

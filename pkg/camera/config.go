package camera

import (
	"fmt"
	"time"
)

// Config holds the tunable parameters of a session.
// These can be changed at runtime through a Manager.
type Config struct {
	// === Device ===
	DeviceIndex int     `json:"device_index"` // Index passed to the driver
	Backend     Backend `json:"backend"`      // Capture API hint, "" for driver default

	// === Resolution ===
	// Requested frame size. Zero for both leaves the device default.
	Width  int `json:"width"`
	Height int `json:"height"`

	// === Acquisition ===
	// ReadTimeoutMs bounds each read. -1 waits forever.
	ReadTimeoutMs int `json:"read_timeout_ms"`

	// StreamIntervalMs is the pause between streamed frames.
	StreamIntervalMs int `json:"stream_interval_ms"`
}

// Frame size limits accepted by Validate.
const (
	MinWidth  = 160
	MinHeight = 120
	MaxWidth  = 7680
	MaxHeight = 4320
)

// DefaultConfig returns VGA on device 0 with the default read budget.
func DefaultConfig() Config {
	return Config{
		DeviceIndex:      0,
		Backend:          BackendDefault,
		Width:            640,
		Height:           480,
		ReadTimeoutMs:    int(DefaultTimeout / time.Millisecond),
		StreamIntervalMs: 0,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.DeviceIndex < 0 {
		errors = append(errors, "device_index must not be negative")
	}
	if _, err := ParseBackend(string(c.Backend)); err != nil {
		errors = append(errors, err.Error())
	}

	// Resolution is all-or-nothing
	switch {
	case c.Width == 0 && c.Height == 0:
	case c.Width < MinWidth || c.Width > MaxWidth:
		errors = append(errors, fmt.Sprintf("width must be between %d and %d", MinWidth, MaxWidth))
	case c.Height < MinHeight || c.Height > MaxHeight:
		errors = append(errors, fmt.Sprintf("height must be between %d and %d", MinHeight, MaxHeight))
	}

	if c.ReadTimeoutMs < -1 {
		errors = append(errors, "read_timeout_ms must be -1 (forever) or >= 0")
	}
	if c.StreamIntervalMs < 0 {
		errors = append(errors, "stream_interval_ms must not be negative")
	}

	return errors
}

// ReadTimeout returns the read budget as a duration.
func (c Config) ReadTimeout() time.Duration {
	if c.ReadTimeoutMs < 0 {
		return NoTimeout
	}
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

// StreamInterval returns the inter-frame pause as a duration.
func (c Config) StreamInterval() time.Duration {
	return time.Duration(c.StreamIntervalMs) * time.Millisecond
}

// Resolution returns the requested resolution, ok false if unset.
func (c Config) Resolution() (Resolution, bool) {
	if c.Width <= 0 || c.Height <= 0 {
		return Resolution{}, false
	}
	return Resolution{Width: c.Width, Height: c.Height}, true
}

// Options turns the config into session options.
func (c Config) Options() []Option {
	return []Option{
		WithBackend(c.Backend),
		WithResolution(c.Width, c.Height),
	}
}

// Apply pushes the resolution of c to a session. Device and backend changes
// only take effect on a new session.
func (c Config) Apply(cam *Camera) {
	if res, ok := c.Resolution(); ok {
		cam.SetResolution(res.Width, res.Height)
	}
}

// Capabilities describes what can be tuned at runtime.
func Capabilities() map[string]interface{} {
	backends := make([]string, 0, len(Backends()))
	for _, b := range Backends() {
		backends = append(backends, string(b))
	}
	return map[string]interface{}{
		"min_width":        MinWidth,
		"min_height":       MinHeight,
		"max_width":        MaxWidth,
		"max_height":       MaxHeight,
		"poll_interval_ms": int(PollInterval / time.Millisecond),
		"backends":         backends,
		"presets":          PresetNames(),
	}
}

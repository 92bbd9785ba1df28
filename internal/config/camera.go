// Package config reads go-usbcam settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/teslashibe/go-usbcam/pkg/camera"
)

// Environment variables understood by the commands.
const (
	EnvCameraIndex    = "CAMERA_INDEX"
	EnvCameraBackend  = "CAMERA_BACKEND"
	EnvCameraWidth    = "CAMERA_WIDTH"
	EnvCameraHeight   = "CAMERA_HEIGHT"
	EnvCameraTimeout  = "CAMERA_TIMEOUT"
	EnvCameraInterval = "CAMERA_INTERVAL"
	EnvHTTPPort       = "HTTP_PORT"
	EnvLogLevel       = "LOG_LEVEL"
)

// DefaultHTTPPort is the dashboard port when HTTP_PORT is unset.
const DefaultHTTPPort = 8181

// CameraConfig overlays CAMERA_* variables on base. Unset variables keep
// the base value; malformed ones are reported.
func CameraConfig(base camera.Config) (camera.Config, error) {
	cfg := base

	if v, ok, err := envInt(EnvCameraIndex); err != nil {
		return base, err
	} else if ok {
		cfg.DeviceIndex = v
	}

	if s := os.Getenv(EnvCameraBackend); s != "" {
		b, err := camera.ParseBackend(s)
		if err != nil {
			return base, fmt.Errorf("%s: %w", EnvCameraBackend, err)
		}
		cfg.Backend = b
	}

	if v, ok, err := envInt(EnvCameraWidth); err != nil {
		return base, err
	} else if ok {
		cfg.Width = v
	}
	if v, ok, err := envInt(EnvCameraHeight); err != nil {
		return base, err
	} else if ok {
		cfg.Height = v
	}

	// Any negative timeout means wait forever
	if d, ok, err := envDuration(EnvCameraTimeout); err != nil {
		return base, err
	} else if ok {
		if d < 0 {
			cfg.ReadTimeoutMs = -1
		} else {
			cfg.ReadTimeoutMs = int(d / time.Millisecond)
		}
	}
	if d, ok, err := envDuration(EnvCameraInterval); err != nil {
		return base, err
	} else if ok {
		if d < 0 {
			return base, fmt.Errorf("%s: %v is negative", EnvCameraInterval, d)
		}
		cfg.StreamIntervalMs = int(d / time.Millisecond)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return base, fmt.Errorf("invalid camera config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// HTTPPort returns HTTP_PORT, or def if unset or malformed.
func HTTPPort(def int) int {
	if v, ok, err := envInt(EnvHTTPPort); err == nil && ok && v > 0 {
		return v
	}
	return def
}

// LogLevel returns LOG_LEVEL, or def if unset.
func LogLevel(def string) string {
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		return lvl
	}
	return def
}

func envInt(key string) (int, bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %q is not an integer", key, s)
	}
	return v, true, nil
}

// envDuration accepts Go durations ("500ms", "2s") or bare milliseconds.
func envDuration(key string) (time.Duration, bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return 0, false, nil
	}
	if ms, err := strconv.Atoi(s); err == nil {
		return time.Duration(ms) * time.Millisecond, true, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %q is not a duration", key, s)
	}
	return d, true, nil
}

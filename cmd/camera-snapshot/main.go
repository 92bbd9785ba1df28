// camera-snapshot grabs one or more frames from a USB camera and writes them
// as JPEG files.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/teslashibe/go-usbcam/internal/config"
	"github.com/teslashibe/go-usbcam/internal/httpc"
	"github.com/teslashibe/go-usbcam/internal/log"
	"github.com/teslashibe/go-usbcam/pkg/camera"
	"github.com/teslashibe/go-usbcam/pkg/camera/opencv"
)

func main() {
	base, err := config.CameraConfig(camera.DefaultConfig())
	if err != nil {
		fmt.Printf("❌ Configuration error: %v\n", err)
		os.Exit(1)
	}

	index := flag.Int("index", base.DeviceIndex, "Camera device index (or CAMERA_INDEX)")
	backend := flag.String("backend", string(base.Backend), "Capture backend (or CAMERA_BACKEND)")
	width := flag.Int("width", base.Width, "Requested frame width")
	height := flag.Int("height", base.Height, "Requested frame height")
	timeout := flag.Duration("timeout", base.ReadTimeout(), "Read timeout, negative waits forever")
	count := flag.Int("n", 1, "Number of frames to save")
	interval := flag.Duration("interval", base.StreamInterval(), "Pause between frames")
	quality := flag.Int("quality", opencv.DefaultJPEGQuality, "JPEG quality 1-100")
	out := flag.String("o", "frame.jpg", "Output file; with -n > 1 a frame number is added")
	server := flag.String("server", "", "Fetch from a running camera-server (e.g. http://localhost:8181) instead of the device")
	flag.Parse()

	log.Init(config.LogLevel("info"))

	if *server != "" {
		if err := fetchRemote(*server, *timeout, *interval, *count, *out); err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
		return
	}

	b, err := camera.ParseBackend(*backend)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	cam := camera.New(opencv.NewDriver(), *index,
		camera.WithBackend(b),
		camera.WithResolution(*width, *height),
		camera.WithLogger(log.Component("camera")),
	)
	if err := cam.Open(); err != nil {
		fmt.Printf("❌ Camera error: %v\n", err)
		os.Exit(1)
	}
	defer cam.Close()

	stream := cam.Stream(*interval, *timeout)
	for frame, err := range stream.All() {
		if err != nil {
			fmt.Printf("❌ Camera error: %v\n", err)
			break
		}

		data, err := opencv.EncodeJPEGQuality(frame, *quality)
		if err != nil {
			fmt.Printf("❌ Encode failed: %v\n", err)
			break
		}

		name := outputName(*out, stream.Count(), *count)
		if err := os.WriteFile(name, data, 0644); err != nil {
			fmt.Printf("❌ Failed to save: %v\n", err)
			break
		}
		fmt.Printf("✅ Saved %dx%d frame to %s (%d bytes)\n", frame.Width, frame.Height, name, len(data))

		if stream.Count() >= *count {
			break
		}
	}

	if stream.Count() < *count {
		cam.Close()
		os.Exit(1)
	}
}

// fetchRemote saves frames served by camera-server, which holds the device
// exclusively while it runs.
func fetchRemote(server string, timeout, interval time.Duration, count int, out string) error {
	for n := 1; n <= count; n++ {
		if n > 1 && interval > 0 {
			time.Sleep(interval)
		}
		data, err := httpc.Snapshot(context.Background(), httpc.Client, server, timeout)
		if err != nil {
			return err
		}
		name := outputName(out, n, count)
		if err := os.WriteFile(name, data, 0644); err != nil {
			return fmt.Errorf("failed to save: %w", err)
		}
		fmt.Printf("✅ Saved frame from %s to %s (%d bytes)\n", server, name, len(data))
	}
	return nil
}

// outputName numbers files when more than one frame is requested:
// frame.jpg becomes frame-001.jpg, frame-002.jpg, ...
func outputName(path string, n, total int) string {
	if total <= 1 {
		return path
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s-%03d%s", path[:len(path)-len(ext)], n, ext)
}

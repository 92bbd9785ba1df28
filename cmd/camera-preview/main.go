// camera-preview opens a USB camera and shows its frames in a window until
// 'q' is pressed or the window is closed.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-usbcam/internal/config"
	"github.com/teslashibe/go-usbcam/internal/log"
	"github.com/teslashibe/go-usbcam/pkg/camera"
	"github.com/teslashibe/go-usbcam/pkg/camera/opencv"
)

func main() {
	index := flag.Int("index", 1, "Camera device index")
	backend := flag.String("backend", "", "Capture backend: "+backendList())
	width := flag.Int("width", 640, "Requested frame width")
	height := flag.Int("height", 480, "Requested frame height")
	timeout := flag.Duration("timeout", camera.DefaultTimeout, "Per-frame read timeout")
	flag.Parse()

	log.Init(config.LogLevel("info"))

	if err := run(*index, *backend, *width, *height, *timeout); err != nil {
		fmt.Printf("Camera error: %v\n", err)
		os.Exit(1)
	}
}

func run(index int, backendName string, width, height int, timeout time.Duration) error {
	backend, err := camera.ParseBackend(backendName)
	if err != nil {
		return err
	}

	cam := camera.New(opencv.NewDriver(), index,
		camera.WithBackend(backend),
		camera.WithResolution(width, height),
		camera.WithLogger(log.Component("camera")),
	)
	if err := cam.Open(); err != nil {
		return err
	}
	defer cam.Close()

	res, _ := cam.Resolution()
	fmt.Printf("📹 Camera %d open at %dx%d, press 'q' to quit\n", index, res.Width, res.Height)

	window := gocv.NewWindow(fmt.Sprintf("Camera %d", index))
	defer window.Close()

	stream := cam.Stream(0, timeout)
	defer stream.Stop()

	for frame, err := range stream.All() {
		if err != nil {
			return err
		}
		mat, err := opencv.ToMat(frame)
		if err != nil {
			return err
		}
		window.IMShow(mat)
		mat.Close()

		if window.WaitKey(1)&0xFF == 'q' || !window.IsOpen() {
			break
		}
	}

	fmt.Printf("👋 Showed %d frames\n", stream.Count())
	return nil
}

func backendList() string {
	s := "default"
	for _, b := range camera.Backends() {
		s += ", " + string(b)
	}
	return s
}

// camera-server runs the dashboard for one USB camera: JSON API, JPEG
// snapshots, websocket feeds and Prometheus metrics.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/teslashibe/go-usbcam/internal/config"
	"github.com/teslashibe/go-usbcam/internal/log"
	"github.com/teslashibe/go-usbcam/internal/metrics"
	"github.com/teslashibe/go-usbcam/pkg/camera"
	"github.com/teslashibe/go-usbcam/pkg/camera/opencv"
	"github.com/teslashibe/go-usbcam/pkg/web"
)

func main() {
	port := flag.Int("port", config.HTTPPort(config.DefaultHTTPPort), "HTTP port (or HTTP_PORT)")
	preset := flag.String("preset", "", "Start with a resolution preset")
	noOpen := flag.Bool("no-open", false, "Start with the camera closed; open it via POST /api/open")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := config.LogLevel("info")
	if *debug {
		level = "debug"
	}
	log.Init(level)

	cfg, err := config.CameraConfig(camera.DefaultConfig())
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}

	manager := camera.NewManager(cfg)
	if *preset != "" {
		if err := manager.UpdateConfig(map[string]interface{}{"preset": *preset}); err != nil {
			log.Error("configuration error", "error", err)
			os.Exit(1)
		}
		cfg = manager.GetConfig()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := append(cfg.Options(),
		camera.WithLogger(log.Component("camera")),
		camera.WithObserver(metrics.NewRecorder(reg)),
	)
	cam := camera.New(opencv.NewDriver(), cfg.DeviceIndex, opts...)
	defer cam.Close()
	manager.Bind(cam)

	if !*noOpen {
		if err := cam.Open(); err != nil {
			// The dashboard can retry through /api/open
			log.Warn("camera not available at startup", "error", err)
		}
	}

	server := web.NewServer(cam, manager, web.Options{
		Port:     *port,
		Encoder:  opencv.EncodeJPEG,
		Gatherer: reg,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Run(ctx); err != nil {
		log.Error("server error", "error", err)
		cam.Close()
		os.Exit(1)
	}
	log.Info("goodbye")
}

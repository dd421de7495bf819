package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/facecam/internal/camera"
	"github.com/kozaktomas/facecam/internal/capability"
	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/detection"
	"github.com/kozaktomas/facecam/internal/detector"
	"github.com/kozaktomas/facecam/internal/geometry"
	"github.com/kozaktomas/facecam/internal/logger"
	"github.com/kozaktomas/facecam/internal/overlay"
	"github.com/kozaktomas/facecam/internal/recording"
	"github.com/kozaktomas/facecam/internal/storage"
	"github.com/kozaktomas/facecam/internal/studio"

	// Storage backends register themselves by driver name.
	_ "github.com/kozaktomas/facecam/internal/storage/mariadb"
	_ "github.com/kozaktomas/facecam/internal/storage/postgres"
	_ "github.com/kozaktomas/facecam/internal/storage/redis"
	_ "github.com/kozaktomas/facecam/internal/storage/sqlite"
)

// app is a fully wired studio plus the resources it must release.
type app struct {
	cfg     *config.Config
	log     *logrus.Entry
	kv      storage.KV
	surface *overlay.Surface
	studio  *studio.Studio
}

// newDevice picks the capture device named by CAMERA_DEVICE.
func newDevice(cfg *config.CameraConfig) (camera.Device, error) {
	switch cfg.Device {
	case "pattern":
		return camera.NewPatternDevice(cfg.Width, cfg.Height, cfg.FPS), nil
	case "mjpeg":
		if cfg.URL == "" {
			return nil, errors.New("CAMERA_URL is required for the mjpeg device")
		}
		return camera.NewMJPEGDevice(cfg.URL), nil
	default:
		return nil, fmt.Errorf("unknown camera device %q (expected pattern or mjpeg)", cfg.Device)
	}
}

// newApp wires every component from cfg and starts the studio.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logrus.NewEntry(logger.New())

	format, ok := cfg.LookupFormat(cfg.Recording.Format)
	if !ok {
		return nil, fmt.Errorf("recording format %q is not supported", cfg.Recording.Format)
	}

	device, err := newDevice(&cfg.Camera)
	if err != nil {
		return nil, err
	}

	kv, err := storage.Open(ctx, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	client := detector.NewClient(cfg.Detector.URL)
	surface := overlay.NewSurface(geometry.Size{Width: cfg.Camera.Width, Height: cfg.Camera.Height})

	var st *studio.Studio
	loop := detection.NewLoop(client, surface, log,
		detection.WithInterval(cfg.Detection.Interval),
		detection.WithMinScore(cfg.Detection.MinScore),
		detection.WithErrorHandler(func(err error) { st.Report(err) }),
	)

	st = studio.New(studio.Deps{
		Loader:    capability.NewLoader(client, cfg.Detector.AssetsPath, log),
		Camera:    camera.NewController(device, log),
		Detection: loop,
		Encoders:  recording.NewMJPEGFactory(cfg),
		Artifacts: storage.NewArtifacts(kv),
		Surface:   surface,
	}, studio.Options{
		Format:     cfg.Recording.Format,
		Extension:  format.Extension,
		FilePrefix: cfg.Recording.FilePrefix,
	}, log)
	st.Start(ctx)

	log.WithFields(logrus.Fields{
		"camera":  device.Name(),
		"storage": cfg.Storage.Driver,
		"format":  cfg.Recording.Format,
	}).Info("Studio started")

	return &app{cfg: cfg, log: log, kv: kv, surface: surface, studio: st}, nil
}

// close tears the studio down, then the storage it persists into.
func (a *app) close(ctx context.Context) error {
	err := a.studio.Close(ctx)
	if cerr := a.kv.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close storage: %w", cerr)
	}
	return err
}

package config

import (
	_ "embed"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/facecam/internal/constants"
)

//go:embed formats.yaml
var formatsYAML []byte

type Config struct {
	Camera    CameraConfig
	Detector  DetectorConfig
	Detection DetectionConfig
	Recording RecordingConfig
	Storage   StorageConfig
	Web       WebConfig
	Formats   FormatsConfig
}

type CameraConfig struct {
	Device string // "pattern" (default) or "mjpeg"
	URL    string // MJPEG endpoint for the "mjpeg" device
	Width  int    // defaults to 640
	Height int    // defaults to 480
	FPS    int    // frame rate of the synthetic pattern device, defaults to 15
}

type DetectorConfig struct {
	URL        string // face detection service, defaults to http://localhost:8000
	AssetsPath string // manifest location relative to URL, defaults to /models/manifest.json
}

type DetectionConfig struct {
	Interval time.Duration // tick period, defaults to 100ms
	MinScore float64       // regions scoring below this are not drawn, defaults to 0.5, 0 keeps all
}

type RecordingConfig struct {
	Format     string        // output MIME type, defaults to video/x-motion-jpeg
	FPS        int           // sampling rate of the encoder, defaults to 10
	Timeslice  time.Duration // how often the encoder emits a chunk, defaults to 1s
	FilePrefix string        // download file name prefix, defaults to "recording"
}

type StorageConfig struct {
	Driver        string // sqlite (default), postgres, mariadb, redis or memory
	Path          string // sqlite database file
	URL           string // DSN / URL for the network backends
	MaxValueBytes int    // quota for one stored value (default 5 MiB)
	MaxOpenConns  int    // postgres/mariadb pool size (default 5)
	MaxIdleConns  int    // postgres/mariadb idle connections (default 2)
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins string // comma-separated CORS whitelist
}

// FormatsConfig is the table of encoder output formats.
type FormatsConfig struct {
	Formats map[string]Format `yaml:"formats"`
}

type Format struct {
	Extension string `yaml:"extension"`
	Enabled   bool   `yaml:"enabled"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envDuration reads an environment variable as a positive time.Duration ("250ms", "2s").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// envFloat reads an environment variable as a float in [0, 1].
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && f <= 1 {
		return f
	}
	return defaultVal
}

// envString returns the env var value or the default when unset.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var formats FormatsConfig
	if err := yaml.Unmarshal(formatsYAML, &formats); err != nil {
		// Embedded file, this can only fail on a broken build
		panic("failed to unmarshal embedded formats.yaml: " + err.Error())
	}

	return &Config{
		Camera: CameraConfig{
			Device: envString("CAMERA_DEVICE", "pattern"),
			URL:    os.Getenv("CAMERA_URL"),
			Width:  envInt("CAMERA_WIDTH", 640),
			Height: envInt("CAMERA_HEIGHT", 480),
			FPS:    envInt("CAMERA_FPS", 15),
		},
		Detector: DetectorConfig{
			URL:        envString("DETECTOR_URL", "http://localhost:8000"),
			AssetsPath: envString("DETECTOR_ASSETS_PATH", "/models/manifest.json"),
		},
		Detection: DetectionConfig{
			Interval: envDuration("DETECTION_INTERVAL", 100*time.Millisecond),
			MinScore: envFloat("DETECTION_MIN_SCORE", constants.MinDetectionScore),
		},
		Recording: RecordingConfig{
			Format:     envString("RECORDING_FORMAT", "video/x-motion-jpeg"),
			FPS:        envInt("RECORDING_FPS", 10),
			Timeslice:  envDuration("RECORDING_TIMESLICE", time.Second),
			FilePrefix: envString("RECORDING_FILE_PREFIX", "recording"),
		},
		Storage: StorageConfig{
			Driver:        envString("STORAGE_DRIVER", "sqlite"),
			Path:          envString("STORAGE_PATH", "facecam.db"),
			URL:           os.Getenv("STORAGE_URL"),
			MaxValueBytes: envInt("STORAGE_MAX_VALUE_BYTES", 5<<20),
			MaxOpenConns:  envInt("STORAGE_MAX_OPEN_CONNS", 5),
			MaxIdleConns:  envInt("STORAGE_MAX_IDLE_CONNS", 2),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: os.Getenv("WEB_ALLOWED_ORIGINS"),
		},
		Formats: formats,
	}
}

// LookupFormat returns the format entry for a MIME type. The second return
// value is false when the type is unknown or disabled.
func (c *Config) LookupFormat(mime string) (Format, bool) {
	f, ok := c.Formats.Formats[mime]
	if !ok || !f.Enabled {
		return Format{}, false
	}
	return f, true
}

// Package config provides configuration management for multicap.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig represents the YAML configuration structure.
type FileConfig struct {
	LogLevel string `yaml:"logLevel,omitempty"`

	Recording RecordingConfig `yaml:"recording"`
	Camera    CameraConfig    `yaml:"camera"`
	Audio     AudioConfig     `yaml:"audio"`
	Worker    WorkerConfig    `yaml:"worker,omitempty"`
}

// RecordingConfig holds session-level settings.
type RecordingConfig struct {
	Mode            string `yaml:"mode,omitempty"`            // "standalone" or "sync"
	Duration        int    `yaml:"duration,omitempty"`        // seconds, propagated to camera length and audio timing
	StandaloneDelay string `yaml:"standaloneDelay,omitempty"` // e.g. "0s"
	SyncDelay       string `yaml:"syncDelay,omitempty"`       // e.g. "860ms"
	LocalDebug      *bool  `yaml:"localDebug,omitempty"`      // loopback-only discovery
	OutputRoot      string `yaml:"outputRoot,omitempty"`      // session directories are created below this
	ReadyTimeout    string `yaml:"readyTimeout,omitempty"`    // fleet readiness wait bound; "0s" = wait forever
}

// CameraConfig holds the external depth-camera recorder settings.
// Pointer fields distinguish "not set" from an explicit zero (exposure may
// legitimately be negative or zero).
type CameraConfig struct {
	ToolPath   string           `yaml:"toolPath,omitempty"`
	Device     *int             `yaml:"device,omitempty"`
	ColorMode  string           `yaml:"colorMode,omitempty"`
	DepthMode  string           `yaml:"depthMode,omitempty"`
	DepthDelay *int             `yaml:"depthDelay,omitempty"` // microseconds
	Rate       int              `yaml:"rate,omitempty"`       // fps
	IMU        string           `yaml:"imu,omitempty"`        // "ON" / "OFF"
	Exposure   *int             `yaml:"exposure,omitempty"`
	SyncDelay  int              `yaml:"syncDelay,omitempty"` // microseconds, subordinate offset
	IPDevices  map[string][]int `yaml:"ipDevices,omitempty"` // worker IP -> device indices
	Port       int              `yaml:"port,omitempty"`      // worker RPC port
}

// AudioConfig holds the local multi-device audio capture settings.
type AudioConfig struct {
	SampleRate      int    `yaml:"sampleRate,omitempty"`
	Channels        int    `yaml:"channels,omitempty"`
	BitDepth        int    `yaml:"bitDepth,omitempty"`
	Devices         []int  `yaml:"devices,omitempty"` // input device indices
	FramesPerBuffer int    `yaml:"framesPerBuffer,omitempty"`
	Mode            string `yaml:"mode,omitempty"`     // "timing" or "manual"
	Timing          int    `yaml:"timing,omitempty"`   // seconds, timing mode
	Filename        string `yaml:"filename,omitempty"` // template; device-qualified when multiple devices record
}

// WorkerConfig holds the worker-agent daemon settings.
type WorkerConfig struct {
	ListenAddr  string `yaml:"listenAddr,omitempty"`
	GracePeriod string `yaml:"gracePeriod,omitempty"` // per-process stop grace, e.g. "2s"
}

const (
	ModeStandalone = "standalone"
	ModeSync       = "sync"

	AudioModeTiming = "timing"
	AudioModeManual = "manual"
)

// Defaults returns the built-in configuration. Values mirror the shipped
// config.yaml so a missing file still produces a runnable setup.
func Defaults() FileConfig {
	device := 0
	local := true
	return FileConfig{
		LogLevel: "info",
		Recording: RecordingConfig{
			Mode:            ModeSync,
			Duration:        10,
			StandaloneDelay: "0s",
			SyncDelay:       "860ms",
			LocalDebug:      &local,
			OutputRoot:      "./output",
			ReadyTimeout:    "0s",
		},
		Camera: CameraConfig{
			ToolPath:  "k4arecorder",
			Device:    &device,
			ColorMode: "720p",
			Rate:      15,
			IMU:       "OFF",
			SyncDelay: 200,
			Port:      8000,
		},
		Audio: AudioConfig{
			SampleRate:      44100,
			Channels:        1,
			BitDepth:        16,
			Devices:         []int{0},
			FramesPerBuffer: 1024,
			Mode:            AudioModeTiming,
			Timing:          10,
		},
		Worker: WorkerConfig{
			ListenAddr:  ":8000",
			GracePeriod: "2s",
		},
	}
}

// Load reads the YAML file at path (when it exists), layers it over the
// defaults and applies ENV overrides last. Precedence: ENV > file > defaults.
func Load(path string) (FileConfig, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator flag
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the merged configuration for inconsistencies that would
// otherwise only surface mid-session.
func (c FileConfig) Validate() error {
	switch c.Recording.Mode {
	case ModeStandalone, ModeSync:
	default:
		return fmt.Errorf("recording.mode must be %q or %q, got %q", ModeStandalone, ModeSync, c.Recording.Mode)
	}
	if c.Recording.Duration <= 0 {
		return fmt.Errorf("recording.duration must be positive, got %d", c.Recording.Duration)
	}
	for _, field := range []struct{ name, val string }{
		{"recording.standaloneDelay", c.Recording.StandaloneDelay},
		{"recording.syncDelay", c.Recording.SyncDelay},
		{"recording.readyTimeout", c.Recording.ReadyTimeout},
		{"worker.gracePeriod", c.Worker.GracePeriod},
	} {
		if field.val == "" {
			continue
		}
		if _, err := time.ParseDuration(field.val); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	switch c.Audio.Mode {
	case AudioModeTiming, AudioModeManual, "":
	default:
		return fmt.Errorf("audio.mode must be %q or %q, got %q", AudioModeTiming, AudioModeManual, c.Audio.Mode)
	}
	if c.Camera.Port <= 0 || c.Camera.Port > 65535 {
		return fmt.Errorf("camera.port out of range: %d", c.Camera.Port)
	}
	return nil
}

// Duration parses a duration field that already passed Validate, returning
// fallback for empty strings.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

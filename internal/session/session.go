// Package session composes the master controller and the audio engine into
// one recording session (standalone or fleet-synchronized).
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/multicap/multicap/internal/audio"
	"github.com/multicap/multicap/internal/config"
	"github.com/multicap/multicap/internal/log"
	"github.com/multicap/multicap/internal/master"
	"github.com/multicap/multicap/internal/recorder"
)

// TimestampFormat names every session directory and output file.
const TimestampFormat = "2006-01-02_15-04-05"

// Controller runs one complete recording session and is discarded
// afterwards.
type Controller struct {
	cfg    config.FileConfig
	fleet  *master.Controller
	engine *audio.Engine
	logger zerolog.Logger

	id        string
	timestamp string
	dir       string
}

// New wires a session from the merged configuration. The audio engine is
// injected so the caller controls the audio backend's lifetime.
func New(cfg config.FileConfig, engine *audio.Engine) *Controller {
	fleet := master.NewController(cfg.Camera.Port)
	fleet.ReadyTimeout = config.Duration(cfg.Recording.ReadyTimeout, 0)
	return &Controller{
		cfg:    cfg,
		fleet:  fleet,
		engine: engine,
		logger: log.WithComponent("session"),
	}
}

// Run executes the configured recording mode, joins every participant and
// finalizes the session manifest. Cleanup always runs, also on error.
func (s *Controller) Run(ctx context.Context) error {
	s.id = uuid.NewString()
	s.timestamp = time.Now().Format(TimestampFormat)
	ctx = log.ContextWithSessionID(ctx, s.id)
	s.logger = log.WithComponentFromContext(ctx, "session")

	mode := s.cfg.Recording.Mode
	s.dir = filepath.Join(s.cfg.Recording.OutputRoot, mode, s.timestamp)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	camCfg := s.recorderConfig()
	s.logSummary(camCfg, mode)

	if err := s.configureAudio(); err != nil {
		return err
	}

	defer s.fleet.Cleanup()

	var err error
	switch mode {
	case config.ModeStandalone:
		err = s.runStandalone(ctx, camCfg)
	case config.ModeSync:
		err = s.runSync(ctx, camCfg)
	default:
		return fmt.Errorf("unknown recording mode %q", mode)
	}
	if err != nil {
		return err
	}

	if err := s.finalize(mode); err != nil {
		s.logger.Warn().Err(err).Msg("writing session manifest failed")
	}
	s.logger.Info().Str("dir", s.dir).Msg("session complete")
	return nil
}

// recorderConfig maps the file configuration plus this session's timestamp
// and directory onto the command builder's input.
func (s *Controller) recorderConfig() recorder.Config {
	cam := s.cfg.Camera
	return recorder.Config{
		ToolPath:   cam.ToolPath,
		Device:     cam.Device,
		IPDevices:  cam.IPDevices,
		Timestamp:  s.timestamp,
		Output:     recorder.SessionLayout(s.dir),
		Length:     s.cfg.Recording.Duration,
		ColorMode:  cam.ColorMode,
		DepthMode:  cam.DepthMode,
		DepthDelay: cam.DepthDelay,
		Rate:       cam.Rate,
		IMU:        cam.IMU,
		Exposure:   cam.Exposure,
		SyncDelay:  cam.SyncDelay,
	}
}

func (s *Controller) configureAudio() error {
	a := s.cfg.Audio
	timing := a.Timing
	if s.cfg.Recording.Duration > 0 {
		timing = s.cfg.Recording.Duration
	}
	filename := a.Filename
	if filename == "" {
		filename = s.timestamp + "-audio.wav"
	}
	return s.engine.SetConfig(audio.Config{
		SampleRate:      a.SampleRate,
		Channels:        a.Channels,
		BitDepth:        a.BitDepth,
		Devices:         a.Devices,
		FramesPerBuffer: a.FramesPerBuffer,
		Mode:            a.Mode,
		Timing:          timing,
		OutPath:         s.dir,
		Filename:        filename,
	})
}

// runStandalone starts the camera and audio modalities concurrently with a
// configurable delay between them and joins both.
func (s *Controller) runStandalone(ctx context.Context, camCfg recorder.Config) error {
	if err := s.fleet.StartStandalone(camCfg); err != nil {
		return err
	}
	return s.joinModalities(ctx, config.Duration(s.cfg.Recording.StandaloneDelay, 0))
}

// runSync confirms fleet readiness synchronously before anything starts:
// the master device is the timing source and must come up last.
func (s *Controller) runSync(ctx context.Context, camCfg recorder.Config) error {
	localDebug := s.cfg.Recording.LocalDebug != nil && *s.cfg.Recording.LocalDebug
	if err := s.fleet.PrepareSync(ctx, camCfg, localDebug); err != nil {
		if errors.Is(err, master.ErrNoWorkers) {
			s.logger.Error().Msg("no workers available, aborting session")
		}
		return fmt.Errorf("prepare sync: %w", err)
	}

	if err := s.fleet.StartSyncMaster(camCfg); err != nil {
		return err
	}
	s.logger.Info().Msg("fleet recording started")
	return s.joinModalities(ctx, config.Duration(s.cfg.Recording.SyncDelay, 0))
}

// joinModalities runs the camera wait and the audio capture on their own
// goroutines, the audio one offset by delay, and blocks until both finish.
func (s *Controller) joinModalities(ctx context.Context, delay time.Duration) error {
	var wg sync.WaitGroup
	var camErr, audioErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.fleet.WaitForProcess(ctx); err != nil && !errors.Is(err, context.Canceled) {
			camErr = err
			s.logger.Error().Err(err).Msg("camera capture failed")
			return
		}
		s.logger.Info().Msg("camera capture finished")
	}()

	if delay > 0 {
		s.logger.Debug().Dur("delay", delay).Msg("delaying audio start")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.engine.Record(ctx); err != nil {
			audioErr = err
			s.logger.Error().Err(err).Msg("audio capture failed")
			return
		}
		s.logger.Info().Msg("audio capture finished")
	}()

	wg.Wait()
	return errors.Join(camErr, audioErr)
}

func (s *Controller) deviceCount() int {
	count := len(s.cfg.Audio.Devices)
	if s.cfg.Recording.Mode == config.ModeSync {
		for _, devices := range s.cfg.Camera.IPDevices {
			count += len(devices)
		}
		count++ // local master device
		return count
	}
	return count + 1 // local standalone device
}

func (s *Controller) logSummary(camCfg recorder.Config, mode string) {
	ev := s.logger.Info().
		Str("mode", mode).
		Str("timestamp", s.timestamp).
		Str("dir", s.dir).
		Int("duration_s", s.cfg.Recording.Duration).
		Int("audio_devices", len(s.cfg.Audio.Devices)).
		Str("tool", camCfg.ToolPath)
	if camCfg.Device != nil {
		ev = ev.Int("device", *camCfg.Device)
	}
	ev.Msg("recording session starting")
}

// Package audio captures PCM from multiple input devices with a
// barrier-aligned start and writes one WAV file per device.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/multicap/multicap/internal/log"
)

var (
	// ErrRecording rejects re-entry while a recording is in progress.
	ErrRecording = errors.New("recording already in progress")
	// ErrNoDevices rejects a recording without configured input devices.
	ErrNoDevices = errors.New("no input devices configured")
)

// Config holds the capture parameters for one engine instance.
type Config struct {
	SampleRate      int
	Channels        int
	BitDepth        int // only 16-bit capture is supported; other values are coerced
	Devices         []int
	FramesPerBuffer int
	Mode            string // "timing" or "manual"
	Timing          int    // seconds, timing mode
	OutPath         string
	Filename        string // template; device-qualified when several devices record
}

func (c *Config) defaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 44100
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	c.BitDepth = 16
	if c.FramesPerBuffer <= 0 {
		c.FramesPerBuffer = 1024
	}
	if c.Mode == "" {
		c.Mode = "timing"
	}
	if c.Timing <= 0 {
		c.Timing = 5
	}
	if c.OutPath == "" {
		c.OutPath = "."
	}
}

// Engine records from multiple devices simultaneously. The underlying audio
// context is opened in New and only released by an explicit Close, never by
// a recording run.
type Engine struct {
	cfg    Config
	ctx    *malgo.AllocatedContext
	logger zerolog.Logger

	mu         sync.Mutex
	recording  bool
	manualStop chan struct{}
}

// New initialises the audio backend.
func New(cfg Config) (*Engine, error) {
	cfg.defaults()
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Engine{
		cfg:    cfg,
		ctx:    mctx,
		logger: log.WithComponent("audio"),
	}, nil
}

// SetConfig replaces the capture parameters. Rejected while recording.
func (e *Engine) SetConfig(cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recording {
		return ErrRecording
	}
	cfg.defaults()
	e.cfg = cfg
	return nil
}

// Close releases the audio backend. The engine is unusable afterwards.
func (e *Engine) Close() {
	_ = e.ctx.Uninit()
	e.ctx.Free()
}

// StopManual ends a manual-mode recording. No-op in timing mode or when not
// recording.
func (e *Engine) StopManual() {
	e.mu.Lock()
	ch := e.manualStop
	e.mu.Unlock()
	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Record captures from every configured device until the stop condition and
// writes one file per device. Blocking; returns only after all files are
// written. A device whose stream fails to open still reaches the barrier so
// the remaining devices are not deadlocked.
func (e *Engine) Record(ctx context.Context) error {
	e.mu.Lock()
	if e.recording {
		e.mu.Unlock()
		e.logger.Error().Msg("recording already in progress")
		return ErrRecording
	}
	if len(e.cfg.Devices) == 0 {
		e.mu.Unlock()
		e.logger.Error().Msg("no input devices configured")
		return ErrNoDevices
	}
	e.recording = true
	e.manualStop = make(chan struct{}, 1)
	manualStop := e.manualStop
	cfg := e.cfg
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.recording = false
		e.manualStop = nil
		e.mu.Unlock()
	}()

	bar := newBarrier(len(cfg.Devices) + 1)
	stop := make(chan struct{})

	var (
		resultMu sync.Mutex
		results  = make(map[int][][]byte, len(cfg.Devices))
		wg       sync.WaitGroup
	)

	for _, idx := range cfg.Devices {
		idx := idx
		wg.Add(1)
		go func() {
			defer wg.Done()
			frames := e.captureDevice(idx, cfg, bar, stop)
			resultMu.Lock()
			results[idx] = frames
			resultMu.Unlock()
			e.logger.Info().Int("device", idx).Msg("device capture finished")
		}()
	}

	e.logger.Info().Int("devices", len(cfg.Devices)).Msg("waiting for all devices to become ready")
	bar.Wait()

	// The barrier release is the authoritative recording start.
	startedAt := time.Now()
	e.logger.Info().Str("mode", cfg.Mode).Msg("all devices ready, recording started")

	switch cfg.Mode {
	case "manual":
		e.logger.Info().Msg("manual mode, waiting for stop request")
		select {
		case <-manualStop:
		case <-ctx.Done():
		}
	default:
		e.logger.Info().Int("seconds", cfg.Timing).Msg("timing mode")
		timer := time.NewTimer(time.Duration(cfg.Timing) * time.Second)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-manualStop:
		case <-ctx.Done():
		}
	}
	close(stop)
	endedAt := time.Now()

	wg.Wait()

	if err := e.saveFiles(cfg, results); err != nil {
		return err
	}

	elapsed := endedAt.Sub(startedAt)
	e.logger.Info().Dur("actual_duration", elapsed).Msg("recording complete")
	return nil
}

// captureDevice opens device idx, joins the barrier, accumulates PCM chunks
// until stop, and returns the buffered frames. On open failure it still
// arrives at the barrier (degraded) and returns nil.
func (e *Engine) captureDevice(idx int, cfg Config, bar *barrier, stop <-chan struct{}) [][]byte {
	infos, err := e.ctx.Devices(malgo.Capture)
	if err != nil || idx < 0 || idx >= len(infos) {
		e.logger.Error().Err(err).Int("device", idx).Msg("capture device unavailable")
		bar.Wait()
		return nil
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.Capture.DeviceID = infos[idx].ID.Pointer()
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.FramesPerBuffer)

	var (
		framesMu sync.Mutex
		frames   [][]byte
		armed    bool
	)
	onRecv := func(_, input []byte, _ uint32) {
		framesMu.Lock()
		defer framesMu.Unlock()
		if !armed {
			return
		}
		chunk := make([]byte, len(input))
		copy(chunk, input)
		frames = append(frames, chunk)
	}

	device, err := malgo.InitDevice(e.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecv})
	if err != nil {
		e.logger.Error().Err(err).Int("device", idx).Msg("opening capture stream failed")
		bar.Wait()
		return nil
	}
	defer device.Uninit()

	// The stream is started before the barrier so the backend is warm; the
	// armed flag gates buffering to the barrier release.
	if err := device.Start(); err != nil {
		e.logger.Error().Err(err).Int("device", idx).Msg("starting capture stream failed")
		bar.Wait()
		return nil
	}

	bar.Wait()
	framesMu.Lock()
	armed = true
	framesMu.Unlock()

	<-stop

	framesMu.Lock()
	armed = false
	framesMu.Unlock()
	_ = device.Stop()

	return frames
}

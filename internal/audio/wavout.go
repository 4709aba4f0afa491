package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// saveFiles flushes every device's buffered PCM to one WAV file per device.
// Devices that buffered nothing (open failure, zero-length run) are skipped.
func (e *Engine) saveFiles(cfg Config, results map[int][][]byte) error {
	if err := os.MkdirAll(cfg.OutPath, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	var firstErr error
	for _, idx := range cfg.Devices {
		frames := results[idx]
		if len(frames) == 0 {
			continue
		}

		path := filepath.Join(cfg.OutPath, deviceFilename(cfg, idx))
		if err := writeWAV(path, cfg, frames); err != nil {
			e.logger.Error().Err(err).Int("device", idx).Str("path", path).Msg("saving device recording failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		info, err := os.Stat(path)
		size := int64(0)
		if err == nil {
			size = info.Size()
		}
		e.logger.Info().
			Int("device", idx).
			Str("path", path).
			Int64("bytes", size).
			Msg("device recording saved")
	}
	return firstErr
}

// deviceFilename resolves the per-device output name. A configured template
// gets a device suffix when several devices record; a requested .mp3
// extension is rewritten to .wav since only WAV containers are written.
func deviceFilename(cfg Config, idx int) string {
	name := cfg.Filename
	if name == "" {
		name = fmt.Sprintf("d%d_%s.wav", idx, time.Now().Format("20060102_150405"))
	} else if len(cfg.Devices) > 1 {
		ext := filepath.Ext(name)
		name = fmt.Sprintf("%s_d%d%s", strings.TrimSuffix(name, ext), idx, ext)
	}
	if strings.EqualFold(filepath.Ext(name), ".mp3") {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".wav"
	}
	return name
}

// writeWAV encodes the accumulated S16LE chunks into a PCM WAV file.
func writeWAV(path string, cfg Config, frames [][]byte) error {
	f, err := os.Create(path) // #nosec G304 -- path derives from validated config
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	enc := wav.NewEncoder(f, cfg.SampleRate, cfg.BitDepth, cfg.Channels, 1)

	total := 0
	for _, chunk := range frames {
		total += len(chunk) / 2
	}
	data := make([]int, 0, total)
	for _, chunk := range frames {
		for i := 0; i+1 < len(chunk); i += 2 {
			data = append(data, int(int16(binary.LittleEndian.Uint16(chunk[i:]))))
		}
	}

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: cfg.Channels,
			SampleRate:  cfg.SampleRate,
		},
		Data:           data,
		SourceBitDepth: cfg.BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return nil
}

package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceFilename(t *testing.T) {
	t.Run("single device keeps template as-is", func(t *testing.T) {
		cfg := Config{Filename: "take1.wav", Devices: []int{0}}
		assert.Equal(t, "take1.wav", deviceFilename(cfg, 0))
	})

	t.Run("multiple devices get a device suffix", func(t *testing.T) {
		cfg := Config{Filename: "take1.wav", Devices: []int{0, 1}}
		assert.Equal(t, "take1_d0.wav", deviceFilename(cfg, 0))
		assert.Equal(t, "take1_d1.wav", deviceFilename(cfg, 1))
	})

	t.Run("mp3 extension is rewritten to wav", func(t *testing.T) {
		cfg := Config{Filename: "take1.mp3", Devices: []int{0}}
		assert.Equal(t, "take1.wav", deviceFilename(cfg, 0))
	})

	t.Run("empty template falls back to a generated name", func(t *testing.T) {
		cfg := Config{Devices: []int{3}}
		name := deviceFilename(cfg, 3)
		assert.Contains(t, name, "d3_")
		assert.Equal(t, ".wav", filepath.Ext(name))
	})
}

func TestWriteWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	cfg := Config{SampleRate: 44100, Channels: 1, BitDepth: 16}

	// two chunks of S16LE samples
	frames := [][]byte{
		{0x00, 0x00, 0xff, 0x7f},
		{0x01, 0x80},
	}
	require.NoError(t, writeWAV(path, cfg, frames))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 44) // RIFF header plus samples
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
}

func TestSaveFilesSkipsEmptyDevices(t *testing.T) {
	dir := t.TempDir()
	e := &Engine{logger: zerolog.Nop()}
	cfg := Config{
		SampleRate: 44100,
		Channels:   1,
		BitDepth:   16,
		Devices:    []int{0, 1},
		OutPath:    dir,
		Filename:   "session.wav",
	}

	results := map[int][][]byte{
		0: {{0x01, 0x00, 0x02, 0x00}},
		1: nil, // device failed to open, nothing buffered
	}
	require.NoError(t, e.saveFiles(cfg, results))

	_, err := os.Stat(filepath.Join(dir, "session_d0.wav"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "session_d1.wav"))
	assert.True(t, os.IsNotExist(err))
}

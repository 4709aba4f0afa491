package session

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// Manifest is the session bookkeeping record written next to the capture
// files once every participant has finished.
type Manifest struct {
	SessionID   string    `yaml:"sessionId"`
	Timestamp   string    `yaml:"timestamp"`
	Mode        string    `yaml:"mode"`
	DeviceCount int       `yaml:"deviceCount"`
	DurationSec int       `yaml:"durationSec"`
	FinishedAt  time.Time `yaml:"finishedAt"`
	Files       []string  `yaml:"files"`
}

// finalize writes the manifest atomically so a crash mid-write never leaves
// a truncated record next to valid captures.
func (s *Controller) finalize(mode string) error {
	m := Manifest{
		SessionID:   s.id,
		Timestamp:   s.timestamp,
		Mode:        mode,
		DeviceCount: s.deviceCount(),
		DurationSec: s.cfg.Recording.Duration,
		FinishedAt:  time.Now(),
	}

	_ = filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.dir, path)
		if relErr != nil {
			return nil
		}
		m.Files = append(m.Files, rel)
		return nil
	})

	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(s.dir, "session.yaml"), data, os.FileMode(0o644))
}

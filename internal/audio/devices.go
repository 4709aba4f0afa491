package audio

import (
	"fmt"

	"github.com/gen2brain/malgo"
)

// DeviceInfo describes one capture-capable audio device.
type DeviceInfo struct {
	Index     int
	Name      string
	IsDefault bool
}

func (d DeviceInfo) String() string {
	def := ""
	if d.IsDefault {
		def = " (default)"
	}
	return fmt.Sprintf("device %d: %s%s", d.Index, d.Name, def)
}

// ListDevices enumerates the system's capture devices. The index is the
// position in the enumeration and is what the configuration's device list
// refers to.
func (e *Engine) ListDevices() ([]DeviceInfo, error) {
	infos, err := e.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate capture devices: %w", err)
	}
	out := make([]DeviceInfo, 0, len(infos))
	for i, info := range infos {
		out = append(out, DeviceInfo{
			Index:     i,
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		})
	}
	return out, nil
}

package recorder

import (
	"fmt"
	"path/filepath"
)

// Ext is the container extension the external recorder writes.
const Ext = ".mkv"

// OutputLayout names the output directory per role. The role-shaped map of
// the wire configuration is resolved into this explicit form before any
// command is built.
type OutputLayout struct {
	Standalone string
	Master     string
	Sub        string
}

// Dir returns the directory for role, falling back to "." when unset.
func (l OutputLayout) Dir(role Role) string {
	var dir string
	switch role {
	case Master:
		dir = l.Master
	case Subordinate:
		dir = l.Sub
	default:
		dir = l.Standalone
	}
	if dir == "" {
		return "."
	}
	return dir
}

// SessionLayout points every role at the same session directory.
func SessionLayout(dir string) OutputLayout {
	return OutputLayout{Standalone: dir, Master: dir, Sub: dir}
}

// OutputFile returns the capture file path for one (role, device) pair,
// e.g. {dir}/master-2026-08-30_14-02-11-device1.mkv
func OutputFile(l OutputLayout, role Role, timestamp string, device int) string {
	name := fmt.Sprintf("%s-%s-device%d%s", role.prefix(), timestamp, device, Ext)
	return filepath.Join(l.Dir(role), name)
}

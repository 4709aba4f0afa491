// Package procgroup spawns recorder processes in their own process group and
// reaps the whole tree on stop. External recorder binaries fork helpers;
// killing only the direct child would leak them.
package procgroup

import (
	"errors"
	"os/exec"
	"time"
)

// ErrKillFailed reports that a process group survived SIGKILL past the
// timeout.
var ErrKillFailed = errors.New("kill operation failed")

// Set configures the command to start in a new process group.
// Required for KillGroup to reach the children.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// KillGroup terminates a process group: SIGTERM, wait up to grace, then
// SIGKILL, wait up to timeout. A group that is already gone is a no-op.
func KillGroup(pid int, grace, timeout time.Duration) error {
	return killGroup(pid, grace, timeout)
}

// Package recorder builds external depth-camera recorder invocations.
package recorder

import (
	"strconv"
)

// Role selects which synchronization flags and output naming a command gets.
type Role int

const (
	Standalone Role = iota
	Master
	Subordinate
)

func (r Role) String() string {
	switch r {
	case Master:
		return "master"
	case Subordinate:
		return "subordinate"
	default:
		return "standalone"
	}
}

// prefix is the output filename prefix for the role.
func (r Role) prefix() string {
	switch r {
	case Master:
		return "master"
	case Subordinate:
		return "sub"
	default:
		return "standalone"
	}
}

// Config is the declarative recording configuration consumed by Build.
// Immutable per session; Timestamp is threaded in explicitly by the session
// controller rather than read from shared state.
type Config struct {
	ToolPath  string
	Device    *int             // primary device index, fallback when IP lookup misses
	IPDevices map[string][]int // worker IP -> device indices on that machine
	Timestamp string           // session timestamp, part of every output name
	Output    OutputLayout

	Length     int    // seconds, 0 = unlimited
	ColorMode  string // e.g. "720p"
	DepthMode  string // e.g. "NFOV_2X2BINNED"
	DepthDelay *int   // microseconds between color and depth capture
	Rate       int    // fps
	IMU        string // "ON" / "OFF"
	Exposure   *int   // manual exposure; may be negative or zero
	SyncDelay  int    // microseconds, subordinate capture offset
}

// Command is one ready-to-execute recorder invocation.
type Command struct {
	Args       []string // argv including the tool path
	OutputPath string
}

// Build maps the configuration to one Command per resolved device index.
//
// Device resolution: an IP present in IPDevices selects that worker's device
// list (one IP may drive several physical cameras); otherwise the primary
// device index is used; with neither, no command is emitted.
//
// Role filtering: Standalone drops both sync flags, Master drops the sync
// delay (it is the timing source), Subordinate carries everything.
//
// Build is pure: identical inputs produce identical argument vectors.
func Build(cfg Config, role Role, ip string) []Command {
	var devices []int
	if ip != "" && len(cfg.IPDevices[ip]) > 0 {
		devices = cfg.IPDevices[ip]
	} else if cfg.Device != nil {
		devices = []int{*cfg.Device}
	} else {
		return nil
	}

	commands := make([]Command, 0, len(devices))
	for _, dev := range devices {
		args := []string{cfg.ToolPath, "--device", strconv.Itoa(dev)}

		switch role {
		case Master:
			args = append(args, "--external-sync", "master")
		case Subordinate:
			args = append(args, "--external-sync", "subordinate")
		}

		if cfg.Length > 0 {
			args = append(args, "-l", strconv.Itoa(cfg.Length))
		}
		if cfg.ColorMode != "" {
			args = append(args, "-c", cfg.ColorMode)
		}
		if cfg.DepthMode != "" {
			args = append(args, "-d", cfg.DepthMode)
		}
		if cfg.DepthDelay != nil {
			args = append(args, "--depth-delay", strconv.Itoa(*cfg.DepthDelay))
		}
		if cfg.Rate > 0 {
			args = append(args, "-r", strconv.Itoa(cfg.Rate))
		}
		if cfg.IMU != "" {
			args = append(args, "--imu", cfg.IMU)
		}
		if role == Subordinate && cfg.SyncDelay > 0 {
			args = append(args, "--sync-delay", strconv.Itoa(cfg.SyncDelay))
		}
		if cfg.Exposure != nil {
			args = append(args, "-e", strconv.Itoa(*cfg.Exposure))
		}

		out := OutputFile(cfg.Output, role, cfg.Timestamp, dev)
		args = append(args, out)

		commands = append(commands, Command{Args: args, OutputPath: out})
	}
	return commands
}

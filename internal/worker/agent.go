// Package worker implements the per-machine agent that runs subordinate
// recorder processes on behalf of a remote master.
package worker

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/multicap/multicap/internal/capture"
	"github.com/multicap/multicap/internal/log"
)

var batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "multicap_worker_batches_total",
	Help: "Total device batches started on this worker",
}, []string{"result"})

// Detail reports the outcome of one command in a batch.
type Detail struct {
	Cmd    string
	Status string // "started" or "failed"
	Pid    int
	Error  string
}

// Result is the status record returned by the batch operations.
type Result struct {
	Code    int
	Msg     string
	Details []Detail
}

// Agent manages at most one active batch of recorder processes. Starting a
// new batch fully stops the previous one first; batches never overlap.
type Agent struct {
	grace  time.Duration
	logger zerolog.Logger

	mu       sync.Mutex
	procs    []*capture.Process
	queue    *capture.OutputQueue
	runCount int
}

// NewAgent creates an idle agent. grace bounds how long a stopping process
// may linger before it is killed.
func NewAgent(grace time.Duration) *Agent {
	if grace <= 0 {
		grace = 2 * time.Second
	}
	return &Agent{
		grace:  grace,
		queue:  capture.NewOutputQueue(0),
		logger: log.WithComponent("worker"),
	}
}

// StartDevices spawns one process per command. Individual spawn failures are
// captured per command; the batch fails only when every spawn failed.
func (a *Agent) StartDevices(cmds [][]string) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.runCount++
	a.logger.Info().Int("run", a.runCount).Int("commands", len(cmds)).Msg("starting device batch")

	if len(a.procs) > 0 {
		a.stopLocked()
	}

	details := make([]Detail, 0, len(cmds))
	started := 0
	for _, cmd := range cmds {
		cmdStr := strings.Join(cmd, " ")
		proc, err := capture.Start(cmd, a.queue)
		if err != nil {
			a.logger.Error().Err(err).Str("command", cmdStr).Msg("spawn failed")
			details = append(details, Detail{Cmd: cmdStr, Status: "failed", Error: err.Error()})
			continue
		}
		a.procs = append(a.procs, proc)
		details = append(details, Detail{Cmd: cmdStr, Status: "started", Pid: proc.Pid()})
		started++
	}

	if started == 0 {
		batchesTotal.WithLabelValues("failed").Inc()
		return Result{Code: 1, Msg: "all processes failed to start", Details: details}
	}
	batchesTotal.WithLabelValues("ok").Inc()
	return Result{
		Code:    0,
		Msg:     fmt.Sprintf("started %d of %d processes", started, len(cmds)),
		Details: details,
	}
}

// Outputs drains everything accumulated since the last call. Never blocks.
func (a *Agent) Outputs() []string {
	return a.queue.Drain()
}

// StopDevices terminates every tracked process, graceful then forced, and
// clears the output queue. Idempotent: with nothing running it is a no-op
// success.
func (a *Agent) StopDevices() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
	return Result{Code: 0, Msg: "all processes stopped"}
}

func (a *Agent) stopLocked() {
	for _, proc := range a.procs {
		if !proc.Alive() {
			continue
		}
		if err := proc.Stop(a.grace, a.grace+3*time.Second); err != nil {
			a.logger.Warn().Err(err).Int("pid", proc.Pid()).Msg("stopping process failed")
			continue
		}
		a.logger.Info().Int("pid", proc.Pid()).Msg("process stopped")
	}
	a.procs = nil
	a.queue.Clear()
}

// Running reports how many batch processes have not yet exited.
func (a *Agent) Running() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, proc := range a.procs {
		if proc.Alive() {
			n++
		}
	}
	return n
}

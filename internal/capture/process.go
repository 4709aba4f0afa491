// Package capture wraps one running recorder process with output monitoring
// and graceful teardown.
package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/multicap/multicap/internal/log"
	"github.com/multicap/multicap/internal/procgroup"
)

var (
	startTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multicap_capture_start_total",
		Help: "Total number of recorder process starts",
	}, []string{"result"})

	exitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multicap_capture_exit_total",
		Help: "Total number of recorder process exits",
	}, []string{"reason"})
)

// Process owns one OS child process running a recorder invocation. The
// component that started it is the only one allowed to stop it. A dedicated
// monitor goroutine drains the merged stdout/stderr into the shared queue and
// exits once the process terminates and its output is fully read.
type Process struct {
	args  []string
	cmd   *exec.Cmd
	queue *OutputQueue

	done    chan struct{} // closed after the process exits and output is drained
	started time.Time

	mu      sync.Mutex
	exitErr error
}

// Start spawns the command in its own process group and begins monitoring.
// Output lines are pushed to queue (when non-nil) prefixed with the command
// and PID so a single queue can multiplex several processes.
func Start(args []string, queue *OutputQueue) (*Process, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := exec.Command(args[0], args[1:]...) // #nosec G204 -- argv built internally by the command builder
	procgroup.Set(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		startTotal.WithLabelValues("err").Inc()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	// Merge stderr into the same pipe; the recorder reports readiness on
	// either stream.
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		startTotal.WithLabelValues("err").Inc()
		return nil, fmt.Errorf("start %s: %w", args[0], err)
	}

	p := &Process{
		args:    args,
		cmd:     cmd,
		queue:   queue,
		done:    make(chan struct{}),
		started: time.Now(),
	}

	logger := log.WithComponent("capture")
	logger.Info().Int("pid", cmd.Process.Pid).Str("command", strings.Join(args, " ")).Msg("recorder process started")
	startTotal.WithLabelValues("ok").Inc()

	go p.monitor(stdout, logger)
	return p, nil
}

// monitor reads lines until the pipe closes, then reaps the process. It is
// the sole caller of cmd.Wait.
func (p *Process) monitor(stdout io.Reader, logger zerolog.Logger) {
	prefix := fmt.Sprintf("[%s (PID:%d)]: ", strings.Join(p.args, " "), p.Pid())

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if p.queue != nil {
			p.queue.Push(prefix + line)
		}
		logger.Debug().Int("pid", p.Pid()).Msg(line)
	}
	if err := scanner.Err(); err != nil {
		// Read failure ends monitoring only; the controller keeps its own
		// liveness view of the process.
		logger.Error().Err(err).Int("pid", p.Pid()).Msg("reading recorder output failed")
	}

	err := p.cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()

	reason := "clean"
	if err != nil {
		reason = "error"
	}
	exitTotal.WithLabelValues(reason).Inc()
	logger.Info().Int("pid", p.Pid()).Str("reason", reason).Msg("recorder monitor stopped")

	close(p.done)
}

// Pid returns the OS process id.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Command returns the argv the process was started with.
func (p *Process) Command() []string {
	return p.args
}

// Alive reports whether the process has not yet been reaped.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitErr returns the error from the process exit, nil before exit or on a
// clean exit.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Wait polls process liveness until exit or context cancellation. Polling
// keeps the caller interruptible, matching the session controller's need to
// stay killable while a recording runs.
func (p *Process) Wait(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return p.ExitErr()
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop terminates the process group gracefully, escalating to SIGKILL after
// grace. Idempotent: stopping an exited process is a no-op.
func (p *Process) Stop(grace, timeout time.Duration) error {
	if !p.Alive() {
		return nil
	}
	if err := procgroup.KillGroup(p.Pid(), grace, timeout); err != nil {
		return fmt.Errorf("stop pid %d: %w", p.Pid(), err)
	}
	return nil
}

// Package master orchestrates a fleet recording session: discover workers,
// start subordinate captures, wait for the readiness barrier, then run the
// local master (timing source) process.
package master

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/multicap/multicap/internal/capture"
	"github.com/multicap/multicap/internal/discovery"
	"github.com/multicap/multicap/internal/log"
	"github.com/multicap/multicap/internal/recorder"
)

// ReadyMarker is the literal line fragment a subordinate recorder prints
// once it is initialized and parked on the master's sync signal.
const ReadyMarker = "[subordinate mode] Waiting for signal from master"

var (
	// ErrNoWorkers aborts the session when discovery finds an empty fleet.
	ErrNoWorkers = errors.New("no workers discovered")

	readyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "multicap_master_ready_markers_total",
		Help: "Subordinate readiness markers observed",
	})
	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multicap_master_state_transitions_total",
		Help: "Controller state transitions",
	}, []string{"state_to"})
)

// Controller drives one synchronized recording session. Not reusable across
// sessions; create a fresh one per run.
type Controller struct {
	Port         int           // worker RPC port
	DialTimeout  time.Duration // per remote call, defaults to 5s
	ReadyTimeout time.Duration // readiness wait bound; 0 preserves the wait-forever behavior
	PollInterval time.Duration // worker output poll cadence, defaults to 1s
	Grace        time.Duration // local process stop grace, defaults to 3s

	// Test seams; production wiring uses discovery.Scan and DialWorker.
	ScanFunc func(ctx context.Context, localOnly bool) []string
	DialFunc func(ip string) WorkerClient

	logger zerolog.Logger
	state  atomic.Int32

	mu      sync.Mutex
	proc    *capture.Process
	workers []Endpoint

	doneCount   atomic.Int64
	monitorStop context.CancelFunc
	monitorDone chan struct{}

	cleaning atomic.Bool
}

// NewController returns a controller with production defaults for port.
func NewController(port int) *Controller {
	return &Controller{
		Port:   port,
		logger: log.WithComponent("master"),
	}
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	stateTransitions.WithLabelValues(s.String()).Inc()
	c.logger.Debug().Str("state", s.String()).Msg("state transition")
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) defaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Grace <= 0 {
		c.Grace = 3 * time.Second
	}
	if c.ScanFunc == nil {
		c.ScanFunc = func(ctx context.Context, localOnly bool) []string {
			return discovery.Scan(ctx, discovery.Options{LocalOnly: localOnly, Port: c.Port})
		}
	}
	if c.DialFunc == nil {
		c.DialFunc = func(ip string) WorkerClient {
			return DialWorker(ip, c.Port, c.DialTimeout)
		}
	}
}

// PrepareSync discovers the fleet, starts every worker's subordinate
// captures and blocks until all expected devices have reported readiness.
// Returns ErrNoWorkers without any remote call when discovery comes back
// empty, so the caller can abort cleanly.
func (c *Controller) PrepareSync(ctx context.Context, cfg recorder.Config, localOnly bool) error {
	c.defaults()
	c.setState(Discovering)

	ips := c.ScanFunc(ctx, localOnly)
	if len(ips) == 0 {
		c.setState(Failed)
		return ErrNoWorkers
	}

	endpoints := make([]Endpoint, 0, len(ips))
	for _, ip := range ips {
		endpoints = append(endpoints, Endpoint{IP: ip, Client: c.DialFunc(ip)})
		c.logger.Info().Str("worker_ip", ip).Msg("connected to worker")
	}
	c.mu.Lock()
	c.workers = endpoints
	c.mu.Unlock()

	c.setState(SubordinatesStarting)
	for _, ep := range endpoints {
		cmds := recorder.Build(cfg, recorder.Subordinate, ep.IP)
		if len(cmds) == 0 {
			c.setState(Failed)
			return fmt.Errorf("no subordinate command for worker %s: no device configured", ep.IP)
		}
		argv := make([][]string, len(cmds))
		for i, cmd := range cmds {
			argv[i] = cmd.Args
		}
		code, msg, err := ep.Client.StartDevice(ctx, argv)
		if err != nil {
			c.setState(Failed)
			return fmt.Errorf("start subordinates on %s: %w", ep.IP, err)
		}
		if code != 0 {
			c.setState(Failed)
			return fmt.Errorf("worker %s rejected batch: %s", ep.IP, msg)
		}
		c.logger.Info().Str("worker_ip", ep.IP).Int("devices", len(argv)).Str("msg", msg).Msg("subordinates started")
	}

	c.startMonitor()

	expected := expectedDevices(cfg, ips)
	c.setState(AwaitingReadiness)
	c.logger.Info().Int("expected_devices", expected).Msg("waiting for subordinate readiness")

	if err := c.awaitReadiness(ctx, expected); err != nil {
		c.setState(Failed)
		return err
	}
	c.logger.Info().Msg("all subordinate devices ready")
	return nil
}

// expectedDevices counts individual devices, never hosts: an IP entry with k
// device indices contributes k, an IP without an entry contributes 1.
func expectedDevices(cfg recorder.Config, ips []string) int {
	total := 0
	for _, ip := range ips {
		if n := len(cfg.IPDevices[ip]); n > 0 {
			total += n
			continue
		}
		total++
	}
	return total
}

// awaitReadiness polls the readiness counter. Polling rather than a blocking
// primitive keeps the wait interruptible between checks.
func (c *Controller) awaitReadiness(ctx context.Context, expected int) error {
	var deadline <-chan time.Time
	if c.ReadyTimeout > 0 {
		timer := time.NewTimer(c.ReadyTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		done := int(c.doneCount.Load())
		if done >= expected {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("readiness wait interrupted with %d of %d devices ready: %w", done, expected, ctx.Err())
		case <-deadline:
			return fmt.Errorf("readiness timeout after %s: %d of %d devices reported", c.ReadyTimeout, done, expected)
		case <-ticker.C:
		}
	}
}

// startMonitor launches the background poller that drains every worker's
// output queue, logs each line and counts readiness markers. Idempotent.
func (c *Controller) startMonitor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.monitorDone != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.monitorStop = cancel
	c.monitorDone = make(chan struct{})
	go c.monitorOutputs(ctx)
}

func (c *Controller) monitorOutputs(ctx context.Context) {
	defer close(c.monitorDone)

	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		endpoints := c.workers
		c.mu.Unlock()

		for _, ep := range endpoints {
			callCtx, cancel := context.WithTimeout(ctx, c.DialTimeout)
			lines, err := ep.Client.GetOutputs(callCtx)
			cancel()
			if err != nil {
				c.logger.Warn().Err(err).Str("worker_ip", ep.IP).Msg("polling worker output failed")
				continue
			}
			for _, line := range lines {
				c.logger.Info().Str("worker_ip", ep.IP).Msg(line)
				if strings.Contains(line, ReadyMarker) {
					c.doneCount.Add(1)
					readyTotal.Inc()
				}
			}
		}
	}
}

// StartSyncMaster builds the master-role command and spawns it locally. The
// caller must have confirmed readiness via PrepareSync first.
func (c *Controller) StartSyncMaster(cfg recorder.Config) error {
	return c.startLocal(cfg, recorder.Master)
}

// StartStandalone spawns a standalone capture, bypassing discovery and
// subordinates entirely.
func (c *Controller) StartStandalone(cfg recorder.Config) error {
	c.defaults()
	return c.startLocal(cfg, recorder.Standalone)
}

func (c *Controller) startLocal(cfg recorder.Config, role recorder.Role) error {
	cmds := recorder.Build(cfg, role, "")
	if len(cmds) == 0 {
		c.setState(Failed)
		return fmt.Errorf("no %s command: no device configured", role)
	}

	proc, err := capture.Start(cmds[0].Args, nil)
	if err != nil {
		c.setState(Failed)
		return fmt.Errorf("start %s process: %w", role, err)
	}

	c.mu.Lock()
	c.proc = proc
	c.mu.Unlock()

	c.setState(MasterRunning)
	c.logger.Info().
		Str("role", role.String()).
		Str("output", cmds[0].OutputPath).
		Strs("command", cmds[0].Args).
		Msg("local capture started")
	return nil
}

// WaitForProcess blocks (polling) until the local capture exits. This is the
// session's primary completion signal.
func (c *Controller) WaitForProcess(ctx context.Context) error {
	c.mu.Lock()
	proc := c.proc
	c.mu.Unlock()
	if proc == nil {
		return fmt.Errorf("no local capture process running")
	}

	err := proc.Wait(ctx, time.Second)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.setState(Failed)
		return fmt.Errorf("local capture: %w", err)
	}
	if c.State() == MasterRunning {
		c.setState(Completed)
	}
	return err
}

// Cleanup terminates the local process (graceful then forced) and stops the
// output monitor. Safe to call from a signal handler and concurrently with
// itself: an atomic flag makes re-entry a no-op.
func (c *Controller) Cleanup() {
	if !c.cleaning.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	proc := c.proc
	stop := c.monitorStop
	done := c.monitorDone
	c.mu.Unlock()

	grace := c.Grace
	if grace <= 0 {
		grace = 3 * time.Second
	}
	if proc != nil && proc.Alive() {
		if err := proc.Stop(grace, grace+3*time.Second); err != nil {
			c.logger.Warn().Err(err).Msg("stopping local capture failed")
		} else {
			c.logger.Info().Msg("local capture stopped")
		}
	}

	if stop != nil {
		stop()
		<-done
	}
}

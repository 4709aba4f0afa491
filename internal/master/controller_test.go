package master

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multicap/multicap/internal/recorder"
)

// fakeWorker is an in-memory WorkerClient. Output lines are handed out once,
// like a real worker draining its queue.
type fakeWorker struct {
	mu         sync.Mutex
	started    [][]string
	startCode  int
	startMsg   string
	startErr   error
	pending    []string
	stopCalled int
}

func (f *fakeWorker) StartDevice(_ context.Context, cmds [][]string) (int, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, cmds...)
	return f.startCode, f.startMsg, f.startErr
}

func (f *fakeWorker) GetOutputs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pending
	f.pending = nil
	return out, nil
}

func (f *fakeWorker) StopDevices(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalled++
	return nil
}

func (f *fakeWorker) emitReady(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.pending = append(f.pending, fmt.Sprintf("device %d: %s", i, ReadyMarker))
	}
}

func (f *fakeWorker) startedBatches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

func testController(scan []string, workers map[string]*fakeWorker) *Controller {
	c := NewController(8000)
	c.PollInterval = 10 * time.Millisecond
	c.ScanFunc = func(context.Context, bool) []string { return scan }
	c.DialFunc = func(ip string) WorkerClient { return workers[ip] }
	return c
}

func fleetConfig() recorder.Config {
	dev := 0
	return recorder.Config{
		ToolPath:  "k4arecorder",
		Device:    &dev,
		Timestamp: "ts",
		Output:    recorder.SessionLayout("/tmp/out"),
		IPDevices: map[string][]int{
			"192.168.1.10": {0, 1},
			"192.168.1.11": {0},
		},
	}
}

func TestPrepareSyncHappyPath(t *testing.T) {
	workers := map[string]*fakeWorker{
		"192.168.1.10": {},
		"192.168.1.11": {},
	}
	c := testController([]string{"192.168.1.10", "192.168.1.11"}, workers)
	defer c.Cleanup()

	workers["192.168.1.10"].emitReady(2)
	workers["192.168.1.11"].emitReady(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.PrepareSync(ctx, fleetConfig(), false))

	assert.Equal(t, AwaitingReadiness, c.State())
	// one argv per configured device index
	assert.Equal(t, 2, workers["192.168.1.10"].startedBatches())
	assert.Equal(t, 1, workers["192.168.1.11"].startedBatches())
}

func TestPrepareSyncEmptyFleet(t *testing.T) {
	worker := &fakeWorker{}
	c := testController(nil, map[string]*fakeWorker{"192.168.1.10": worker})
	defer c.Cleanup()

	err := c.PrepareSync(context.Background(), fleetConfig(), false)
	require.ErrorIs(t, err, ErrNoWorkers)
	assert.Equal(t, Failed, c.State())
	// nothing may be started on an empty fleet
	assert.Zero(t, worker.startedBatches())
}

func TestPrepareSyncWorkerRejectsBatch(t *testing.T) {
	workers := map[string]*fakeWorker{
		"192.168.1.10": {startCode: 1, startMsg: "all processes failed to start"},
	}
	c := testController([]string{"192.168.1.10"}, workers)
	defer c.Cleanup()

	err := c.PrepareSync(context.Background(), fleetConfig(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected batch")
	assert.Equal(t, Failed, c.State())
}

func TestPrepareSyncReadinessTimeout(t *testing.T) {
	workers := map[string]*fakeWorker{"192.168.1.10": {}}
	c := testController([]string{"192.168.1.10"}, workers)
	c.ReadyTimeout = 200 * time.Millisecond
	defer c.Cleanup()

	// the worker never prints the readiness line
	err := c.PrepareSync(context.Background(), fleetConfig(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0 of 2")
	assert.Equal(t, Failed, c.State())
}

func TestPrepareSyncInterruptible(t *testing.T) {
	workers := map[string]*fakeWorker{"192.168.1.10": {}}
	c := testController([]string{"192.168.1.10"}, workers)
	defer c.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	err := c.PrepareSync(ctx, fleetConfig(), false)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExpectedDevices(t *testing.T) {
	cfg := fleetConfig()

	t.Run("devices are counted, not hosts", func(t *testing.T) {
		n := expectedDevices(cfg, []string{"192.168.1.10", "192.168.1.11"})
		assert.Equal(t, 3, n)
	})

	t.Run("unmapped host counts as one device", func(t *testing.T) {
		n := expectedDevices(cfg, []string{"192.168.1.99"})
		assert.Equal(t, 1, n)
	})

	t.Run("mixed", func(t *testing.T) {
		n := expectedDevices(cfg, []string{"192.168.1.10", "192.168.1.99"})
		assert.Equal(t, 3, n)
	})
}

func TestCleanupIdempotent(t *testing.T) {
	workers := map[string]*fakeWorker{"192.168.1.10": {}}
	c := testController([]string{"192.168.1.10"}, workers)
	workers["192.168.1.10"].emitReady(2)

	require.NoError(t, c.PrepareSync(context.Background(), fleetConfig(), false))

	c.Cleanup()
	// re-entry must be a no-op, not a deadlock or double stop
	c.Cleanup()
}

func TestWaitForProcessWithoutStart(t *testing.T) {
	c := NewController(8000)
	require.Error(t, c.WaitForProcess(context.Background()))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "failed", Failed.String())
}

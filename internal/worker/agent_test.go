package worker

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requirePosix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("posix shell required")
	}
}

func TestStartDevicesBatch(t *testing.T) {
	requirePosix(t)
	a := NewAgent(100 * time.Millisecond)
	defer a.StopDevices()

	result := a.StartDevices([][]string{
		{"sleep", "60"},
		{"sleep", "60"},
	})
	require.Equal(t, 0, result.Code)
	require.Len(t, result.Details, 2)
	for _, d := range result.Details {
		assert.Equal(t, "started", d.Status)
		assert.NotZero(t, d.Pid)
	}
	assert.Equal(t, 2, a.Running())
}

func TestStartDevicesReplacesActiveBatch(t *testing.T) {
	requirePosix(t)
	a := NewAgent(100 * time.Millisecond)
	defer a.StopDevices()

	first := a.StartDevices([][]string{{"sleep", "60"}, {"sleep", "60"}})
	require.Equal(t, 0, first.Code)

	second := a.StartDevices([][]string{{"sleep", "60"}})
	require.Equal(t, 0, second.Code)

	// only the second batch survives
	assert.Equal(t, 1, a.Running())
}

func TestStartDevicesPartialFailure(t *testing.T) {
	requirePosix(t)
	a := NewAgent(100 * time.Millisecond)
	defer a.StopDevices()

	result := a.StartDevices([][]string{
		{"/nonexistent/recorder"},
		{"sleep", "60"},
	})
	// one spawn succeeded, so the batch as a whole did too
	require.Equal(t, 0, result.Code)
	require.Len(t, result.Details, 2)
	assert.Equal(t, "failed", result.Details[0].Status)
	assert.NotEmpty(t, result.Details[0].Error)
	assert.Equal(t, "started", result.Details[1].Status)
}

func TestStartDevicesAllFail(t *testing.T) {
	a := NewAgent(100 * time.Millisecond)

	result := a.StartDevices([][]string{
		{"/nonexistent/recorder"},
		{"/also/missing"},
	})
	assert.Equal(t, 1, result.Code)
	assert.Equal(t, 0, a.Running())
}

func TestStopDevicesIdempotent(t *testing.T) {
	requirePosix(t)
	a := NewAgent(100 * time.Millisecond)

	a.StartDevices([][]string{{"sleep", "60"}})
	require.Equal(t, 0, a.StopDevices().Code)
	assert.Equal(t, 0, a.Running())

	// nothing running, still a success
	require.Equal(t, 0, a.StopDevices().Code)
}

func TestOutputsDrainOnce(t *testing.T) {
	requirePosix(t)
	a := NewAgent(100 * time.Millisecond)

	a.StartDevices([][]string{{"sh", "-c", "echo ready-marker"}})
	require.Eventually(t, func() bool {
		lines := a.Outputs()
		if len(lines) == 0 {
			return false
		}
		assert.Contains(t, lines[0], "ready-marker")
		return true
	}, 3*time.Second, 10*time.Millisecond)

	assert.Empty(t, a.Outputs())
}

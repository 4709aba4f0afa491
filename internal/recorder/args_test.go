package recorder

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func testConfig() Config {
	return Config{
		ToolPath:  "k4arecorder",
		Device:    intPtr(0),
		Timestamp: "2026-01-02_15-04-05",
		Output:    SessionLayout("/tmp/out"),
		Length:    10,
		ColorMode: "720p",
		Rate:      15,
		IMU:       "OFF",
		SyncDelay: 200,
	}
}

func TestBuildRoleFlagFiltering(t *testing.T) {
	cfg := testConfig()

	standalone := Build(cfg, Standalone, "")
	require.Len(t, standalone, 1)
	assert.NotContains(t, standalone[0].Args, "--external-sync")
	assert.NotContains(t, standalone[0].Args, "--sync-delay")

	master := Build(cfg, Master, "")
	require.Len(t, master, 1)
	assert.Contains(t, master[0].Args, "--external-sync")
	assert.Contains(t, master[0].Args, "master")
	assert.NotContains(t, master[0].Args, "--sync-delay")

	sub := Build(cfg, Subordinate, "")
	require.Len(t, sub, 1)
	assert.Contains(t, sub[0].Args, "--external-sync")
	assert.Contains(t, sub[0].Args, "subordinate")
	assert.Contains(t, sub[0].Args, "--sync-delay")
	assert.Contains(t, sub[0].Args, "200")
}

func TestBuildDeviceResolution(t *testing.T) {
	cfg := testConfig()
	cfg.IPDevices = map[string][]int{
		"192.168.1.20": {0, 1, 2},
	}

	t.Run("ip entry fans out per device", func(t *testing.T) {
		cmds := Build(cfg, Subordinate, "192.168.1.20")
		require.Len(t, cmds, 3)
		for i, cmd := range cmds {
			assert.Contains(t, cmd.Args, "--device")
			assert.Contains(t, cmd.OutputPath, "device"+string(rune('0'+i)))
		}
	})

	t.Run("unknown ip falls back to primary device", func(t *testing.T) {
		cmds := Build(cfg, Subordinate, "192.168.1.99")
		require.Len(t, cmds, 1)
		assert.Equal(t, "0", cmds[0].Args[2])
	})

	t.Run("no device configured yields nothing", func(t *testing.T) {
		bare := cfg
		bare.Device = nil
		assert.Empty(t, Build(bare, Subordinate, "192.168.1.99"))
	})
}

func TestBuildDeterministic(t *testing.T) {
	cfg := testConfig()
	cfg.DepthMode = "NFOV_2X2BINNED"
	cfg.DepthDelay = intPtr(160)
	cfg.Exposure = intPtr(-3)

	first := Build(cfg, Master, "")
	second := Build(cfg, Master, "")
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("repeated builds differ (-first +second):\n%s", diff)
	}
}

func TestBuildFullArgumentOrder(t *testing.T) {
	cfg := testConfig()
	cfg.DepthMode = "NFOV_2X2BINNED"
	cfg.DepthDelay = intPtr(160)
	cfg.Exposure = intPtr(0)

	cmds := Build(cfg, Subordinate, "")
	require.Len(t, cmds, 1)

	want := []string{
		"k4arecorder",
		"--device", "0",
		"--external-sync", "subordinate",
		"-l", "10",
		"-c", "720p",
		"-d", "NFOV_2X2BINNED",
		"--depth-delay", "160",
		"-r", "15",
		"--imu", "OFF",
		"--sync-delay", "200",
		"-e", "0",
		"/tmp/out/sub-2026-01-02_15-04-05-device0.mkv",
	}
	if diff := cmp.Diff(want, cmds[0].Args); diff != "" {
		t.Fatalf("argument vector mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildOmitsUnsetFlags(t *testing.T) {
	cfg := Config{
		ToolPath:  "k4arecorder",
		Device:    intPtr(1),
		Timestamp: "ts",
		Output:    SessionLayout("out"),
	}
	cmds := Build(cfg, Standalone, "")
	require.Len(t, cmds, 1)
	want := []string{"k4arecorder", "--device", "1", "out/standalone-ts-device1.mkv"}
	assert.Equal(t, want, cmds[0].Args)
}

func TestOutputFile(t *testing.T) {
	layout := OutputLayout{Master: "/m", Sub: "/s"}
	assert.Equal(t, "/m/master-ts-device0.mkv", OutputFile(layout, Master, "ts", 0))
	assert.Equal(t, "/s/sub-ts-device2.mkv", OutputFile(layout, Subordinate, "ts", 2))
	// unset directory falls back to the working directory
	assert.Equal(t, "standalone-ts-device0.mkv", OutputFile(layout, Standalone, "ts", 0))
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "standalone", Standalone.String())
	assert.Equal(t, "master", Master.String())
	assert.Equal(t, "subordinate", Subordinate.String())
}
